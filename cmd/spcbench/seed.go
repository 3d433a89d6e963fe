package main

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

var seedCmd = &cobra.Command{
	Use:   "seed <count>",
	Short: "Create test accounts with random finished entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[0])
		if err != nil || count <= 0 {
			return eris.Errorf("count must be a positive integer, got %q", args[0])
		}
		perUser, _ := cmd.Flags().GetInt("entries")
		conn, err := openDB()
		if err != nil {
			return err
		}
		defer conn.Close()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		created, err := seed(cmd.Context(), conn, services.TokenService{}, rng, count, perUser)
		zap.L().Info("seeded database", zap.Int("users", count), zap.Int("entries", created))
		return err
	},
}

func init() {
	seedCmd.Flags().Int("entries", 3, "entries per seeded account")
	rootCmd.AddCommand(seedCmd)
}

var seedVisibilities = []models.Visibility{models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityAnonymous}

// seed creates count verified accounts with perUser SUCCESS entries each and
// plausible random metrics.
func seed(ctx context.Context, conn *sqlx.DB, tokens services.TokenService, rng *rand.Rand, count, perUser int) (int, error) {
	created := 0
	for i := 0; i < count; i++ {
		user, err := services.CreateUser(ctx, conn, tokens, services.NewUser{
			Email:      fmt.Sprintf("seed-%s@example.org", uuid.NewString()[:8]),
			Password:   uuid.NewString(),
			University: fmt.Sprintf("University %d", i+1),
			IsVerified: true,
		})
		if err != nil {
			return created, err
		}
		for j := 0; j < perUser; j++ {
			now := time.Now().UTC()
			entry := models.NewReconstructionEntry()
			entry.UUID = uuid.NewString()
			entry.CreatorID = user.ID
			entry.Name = fmt.Sprintf("Method %d.%d", i+1, j+1)
			entry.Visibility = seedVisibilities[rng.Intn(len(seedVisibilities))]
			entry.ProcessStatus = models.StatusSuccess
			entry.PubDate = &now
			entry.CreatedAt, entry.UpdatedAt = now, now
			randomMetrics(&entry, rng)
			if _, err := services.InsertEntry(ctx, conn, entry); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

// randomMetrics keeps every stat ordered: 1% low <= 5% low <= mean for
// higher-is-better metrics and the reverse for LPIPS.
func randomMetrics(e *models.ReconstructionEntry, rng *rand.Rand) {
	e.PSNRMean = 20 + rng.Float64()*15
	e.PSNR5p = e.PSNRMean - rng.Float64()*3
	e.PSNR1p = e.PSNR5p - rng.Float64()*2
	e.SSIMMean = 0.6 + rng.Float64()*0.35
	e.SSIM5p = e.SSIMMean - rng.Float64()*0.1
	e.SSIM1p = e.SSIM5p - rng.Float64()*0.05
	e.LPIPSMean = 0.05 + rng.Float64()*0.4
	e.LPIPS5p = e.LPIPSMean + rng.Float64()*0.1
	e.LPIPS1p = e.LPIPS5p + rng.Float64()*0.05
}
