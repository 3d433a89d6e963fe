package models

import "github.com/rotisserie/eris"

type ProcessStatus string

const (
	StatusWaitUpload  ProcessStatus = "WAIT_UPL"
	StatusWaitProcess ProcessStatus = "WAIT_PROC"
	StatusSuccess     ProcessStatus = "SUCCESS"
	StatusFail        ProcessStatus = "FAIL"
)

var ErrInvalidTransition = eris.New("invalid process status transition")

var transitions = map[ProcessStatus][]ProcessStatus{
	StatusWaitUpload:  {StatusWaitProcess},
	StatusWaitProcess: {StatusSuccess, StatusFail},
}

func (s ProcessStatus) Valid() bool {
	switch s {
	case StatusWaitUpload, StatusWaitProcess, StatusSuccess, StatusFail:
		return true
	}
	return false
}

func (s ProcessStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// CheckTransition returns ErrInvalidTransition unless from → to is an edge of
// WAIT_UPL → WAIT_PROC → {SUCCESS, FAIL}.
func CheckTransition(from, to ProcessStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}

type Visibility string

const (
	VisibilityPublic    Visibility = "PUBL"
	VisibilityPrivate   Visibility = "PRIV"
	VisibilityAnonymous Visibility = "ANON"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAnonymous:
		return true
	}
	return false
}

func (v Visibility) Label() string {
	switch v {
	case VisibilityPublic:
		return "Public"
	case VisibilityPrivate:
		return "Private"
	case VisibilityAnonymous:
		return "Anonymous"
	}
	return string(v)
}
