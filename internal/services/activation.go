package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"spcbench-backend-go/internal/mail"
	"spcbench-backend-go/internal/models"
)

// Activation mails verification links and verifies accounts.
type Activation struct {
	Tokens  TokenService
	Mailer  mail.Sender
	SiteURL string
	// ResendEvery is the minimum spacing of resend requests per user.
	ResendEvery time.Duration
	Now         func() time.Time

	mu       sync.Mutex
	limiters map[string]*resendSlot
}

type resendSlot struct {
	limiter *rate.Limiter
	last    time.Time
}

func (a *Activation) Link(user models.User) (string, error) {
	token, err := a.Tokens.CreateActivationToken(user)
	if err != nil {
		return "", eris.Wrap(err, "sign activation token")
	}
	return strings.TrimRight(a.SiteURL, "/") + "/api/auth/activate/" + user.ID + "/" + token, nil
}

// Send mails the activation link to user.
func (a *Activation) Send(ctx context.Context, user models.User) error {
	link, err := a.Link(user)
	if err != nil {
		return err
	}
	return a.Mailer.Send(ctx, mail.Message{
		To:      user.Email,
		Subject: "Activate your account",
		Body: "Welcome!\n\nPlease confirm your email address by opening the link below:\n\n" + link +
			"\n\nIf you did not register, you can ignore this message.\n",
	})
}

// Resend is Send with a per-user rate limit.
func (a *Activation) Resend(ctx context.Context, user models.User) error {
	if user.IsVerified {
		return ErrBadRequest("Account is already verified.")
	}
	if !a.allowResend(user.ID) {
		return ErrTooManyRequests("An activation email was sent recently. Please wait before requesting another.")
	}
	return a.Send(ctx, user)
}

// allowResend takes a token from the user's limiter. Slots idle for a full
// interval hold a full bucket again and are dropped.
func (a *Activation) allowResend(userID string) bool {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	every := a.ResendEvery
	if every <= 0 {
		every = time.Minute
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limiters == nil {
		a.limiters = map[string]*resendSlot{}
	}
	for id, slot := range a.limiters {
		if now.Sub(slot.last) >= every {
			delete(a.limiters, id)
		}
	}
	slot, ok := a.limiters[userID]
	if !ok {
		slot = &resendSlot{limiter: rate.NewLimiter(rate.Every(every), 1)}
		a.limiters[userID] = slot
	}
	if !slot.limiter.AllowN(now, 1) {
		return false
	}
	slot.last = now
	return true
}

func (a *Activation) forget(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.limiters, userID)
}

// Activate marks the account verified when the token matches its state.
func (a *Activation) Activate(ctx context.Context, db *sqlx.DB, userID, token string) (models.User, error) {
	user, err := GetUser(ctx, db, userID)
	if err != nil {
		if _, ok := AsServiceError(err); ok {
			return models.User{}, ErrBadRequest("Activation link is invalid or has expired.")
		}
		return models.User{}, err
	}
	if err := a.Tokens.CheckActivationToken(token, user); err != nil {
		return models.User{}, err
	}
	if user.IsVerified {
		return user, nil
	}
	verified := true
	user, err = UpdateUserFlags(ctx, db, user.ID, UserFlags{IsVerified: &verified})
	if err != nil {
		return models.User{}, err
	}
	a.forget(user.ID)
	return user, nil
}
