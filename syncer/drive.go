package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Drive stores artifacts as plain-text files in a single Google Drive
// folder. Revisions map to Drive's headRevisionId.
type Drive struct {
	service    *drive.Service
	folderName string
	folderID   string
}

type DriveConfig struct {
	CredentialsFile string
	TokenFile       string
	FolderName      string
}

// NewDrive builds the client from an OAuth credentials file and a cached
// token file. The token must already exist (run the authorize flow once);
// the daemon itself never prompts.
func NewDrive(ctx context.Context, cfg DriveConfig) (*Drive, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token (authorize first): %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	d := &Drive{service: srv, folderName: cfg.FolderName}
	if err := d.ensureFolder(); err != nil {
		return nil, err
	}
	return d, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (d *Drive) Name() string { return "gdrive" }

func (d *Drive) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		d.folderName)
	r, err := d.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("search folder: %w", err)
	}
	if len(r.Files) > 0 {
		d.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     d.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := d.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	d.folderID = file.Id
	return nil
}

func (d *Drive) Upsert(ctx context.Context, name, content, remoteID, baseRevision string) (Remote, error) {
	if remoteID == "" {
		file := &drive.File{
			Name:     name + ".txt",
			Parents:  []string{d.folderID},
			MimeType: "text/plain",
		}
		created, err := d.service.Files.Create(file).
			Media(strings.NewReader(content)).
			Fields("id, headRevisionId").
			Context(ctx).Do()
		if err != nil {
			return Remote{}, fmt.Errorf("drive create: %w", err)
		}
		return Remote{ID: created.Id, Revision: created.HeadRevisionId}, nil
	}

	current, err := d.service.Files.Get(remoteID).Fields("headRevisionId").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			// Deleted remotely counts as a divergence, not a silent recreate.
			return Remote{}, fmt.Errorf("%w: document deleted", ErrConflict)
		}
		return Remote{}, fmt.Errorf("drive head revision: %w", err)
	}
	if baseRevision != "" && current.HeadRevisionId != baseRevision {
		return Remote{}, fmt.Errorf("%w: revision %s, expected %s",
			ErrConflict, current.HeadRevisionId, baseRevision)
	}

	updated, err := d.service.Files.Update(remoteID, &drive.File{}).
		Media(strings.NewReader(content)).
		Fields("id, headRevisionId").
		Context(ctx).Do()
	if err != nil {
		return Remote{}, fmt.Errorf("drive update: %w", err)
	}
	return Remote{ID: updated.Id, Revision: updated.HeadRevisionId}, nil
}

func (d *Drive) Fetch(ctx context.Context, remoteID string) (string, string, error) {
	meta, err := d.service.Files.Get(remoteID).Fields("headRevisionId").Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("drive get: %w", err)
	}
	resp, err := d.service.Files.Get(remoteID).Context(ctx).Download()
	if err != nil {
		return "", "", fmt.Errorf("drive download: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("drive read: %w", err)
	}
	return string(data), meta.HeadRevisionId, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
