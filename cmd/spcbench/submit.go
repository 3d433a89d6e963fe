package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

var submitCmd = &cobra.Command{
	Use:   "submit <list.yaml>",
	Short: "Register several archives on behalf of one account",
	Long: `Reads a YAML (or JSON) list of submissions and registers each archive for
the given account exactly as an upload would: the manifest is checked, the
checksum recorded and the entry queued for evaluation.

Example list:
  - path: results/method-a.zip
    name: Method A
    visibility: PUBL
    citation: "Doe et al., 2024"
    code_url: https://example.org/method-a`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("user", "", "email of the submitting account (required)")
	_ = submitCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(submitCmd)
}

type submitItem struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	Visibility string `yaml:"visibility"`
	Citation   string `yaml:"citation"`
	CodeURL    string `yaml:"code_url"`
}

// loadSubmitList parses the list; relative archive paths are resolved
// against the list's directory.
func loadSubmitList(path string) ([]submitItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var items []submitItem
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	base := filepath.Dir(path)
	for i := range items {
		if items[i].Path == "" {
			return nil, eris.Errorf("item %d has no path", i+1)
		}
		if !filepath.IsAbs(items[i].Path) {
			items[i].Path = filepath.Join(base, items[i].Path)
		}
		if items[i].Name == "" {
			items[i].Name = trimExt(filepath.Base(items[i].Path))
		}
	}
	return items, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func runSubmit(cmd *cobra.Command, args []string) error {
	items, err := loadSubmitList(args[0])
	if err != nil {
		return err
	}
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	reference, err := loadReference()
	if err != nil {
		return err
	}
	email, _ := cmd.Flags().GetString("user")
	user, err := services.GetUserByEmail(cmd.Context(), conn, email)
	if err != nil {
		return eris.Wrapf(err, "look up %s", email)
	}

	submitter := &services.Submitter{
		DB:         conn,
		Reference:  reference,
		UploadDir:  cfg.Storage.UploadDir,
		MaxBytes:   cfg.Upload.MaxBytes,
		DailyQuota: cfg.Upload.DailyQuota,
	}
	entries, err := submitAll(cmd.Context(), submitter, user, items)
	zap.L().Info("bulk submission finished", zap.Int("submitted", len(entries)), zap.Int("requested", len(items)))
	return err
}

// submitAll stops at the first rejected archive; earlier ones stay queued.
func submitAll(ctx context.Context, submitter *services.Submitter, user models.User, items []submitItem) ([]models.ReconstructionEntry, error) {
	entries := make([]models.ReconstructionEntry, 0, len(items))
	for _, item := range items {
		entry, err := submitOne(ctx, submitter, user, item)
		if err != nil {
			if serr, ok := services.AsServiceError(err); ok && len(serr.Fields) > 0 {
				return entries, eris.Errorf("%s: %v", item.Path, serr.Fields)
			}
			return entries, eris.Wrap(err, item.Path)
		}
		zap.L().Info("archive queued", zap.String("path", item.Path), zap.String("uuid", entry.UUID))
		entries = append(entries, entry)
	}
	return entries, nil
}

func submitOne(ctx context.Context, submitter *services.Submitter, user models.User, item submitItem) (models.ReconstructionEntry, error) {
	file, err := os.Open(item.Path)
	if err != nil {
		return models.ReconstructionEntry{}, eris.Wrap(err, "open archive")
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return models.ReconstructionEntry{}, eris.Wrap(err, "stat archive")
	}
	return submitter.Submit(ctx, user, services.SubmissionForm{
		Name:       item.Name,
		Visibility: item.Visibility,
		Citation:   item.Citation,
		CodeURL:    item.CodeURL,
	}, services.SubmissionFile{
		Filename:    filepath.Base(item.Path),
		ContentType: services.ZipContentType,
		Size:        info.Size(),
		Body:        file,
	})
}
