package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/retry"
)

const filesInfoConcurrency = 4

// Options configures a Client
type Options struct {
	GraphURL          string
	LoginURL          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             *retry.Config
	Logger            logger.Logger
}

// Client represents a Microsoft Graph client for OneDrive/SharePoint storages
type Client struct {
	http        *resty.Client
	graphURL    string
	auth        *Auth
	limiter     *rate.Limiter
	retryConfig *retry.Config
	logger      logger.Logger
}

// NewClient creates a new OneDrive client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		http:        resty.New().SetTimeout(opts.Timeout),
		graphURL:    strings.TrimRight(opts.GraphURL, "/"),
		auth:        NewAuth(opts.LoginURL, opts.Timeout),
		limiter:     rate.NewLimiter(limit, 1),
		retryConfig: opts.Retry,
		logger:      opts.Logger.With(logger.String("provider", string(types.ProviderOneDrive))),
	}
}

// DriveItem represents a OneDrive item (file or folder)
type DriveItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Size            int64            `json:"size"`
	File            *FileMetadata    `json:"file,omitempty"`
	Folder          *FolderMetadata  `json:"folder,omitempty"`
	ParentReference *ParentReference `json:"parentReference,omitempty"`
}

// FileMetadata represents file-specific metadata
type FileMetadata struct {
	MimeType string `json:"mimeType"`
}

// FolderMetadata represents folder-specific metadata
type FolderMetadata struct {
	ChildCount int `json:"childCount"`
}

// ParentReference locates an item inside its drive
type ParentReference struct {
	DriveID string `json:"driveId"`
	ID      string `json:"id"`
	Path    string `json:"path"`
}

// Location returns the absolute path of the item inside its drive
func (i *DriveItem) Location() string {
	parent := ""
	if i.ParentReference != nil {
		parent = i.ParentReference.Path
		if idx := strings.Index(parent, "root:"); idx >= 0 {
			parent = parent[idx+len("root:"):]
		}
		if unescaped, err := url.PathUnescape(parent); err == nil {
			parent = unescaped
		}
	}
	return path.Join("/", parent, i.Name)
}

type childrenPage struct {
	Value    []DriveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// request prepares an authenticated, rate limited request
func (c *Client) request(ctx context.Context, storage *types.Storage) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.auth.Token(ctx, storage)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

// CopyFolder asks Graph to copy the folder with item id sourcePath next to
// itself under the last segment of destinationPath. Graph answers 202 with a
// monitor URL in the Location header.
func (c *Client) CopyFolder(ctx context.Context, storage *types.Storage, sourcePath, destinationPath string) (*types.CopyFolderResult, error) {
	if strings.TrimSpace(sourcePath) == "" || strings.TrimSpace(destinationPath) == "" {
		return nil, errors.InvalidArgument("Both source and destination paths need to be present")
	}

	req, err := c.request(ctx, storage)
	if err != nil {
		return nil, err
	}

	name := path.Base(strings.TrimRight(destinationPath, "/"))
	copyURL := fmt.Sprintf("%s/drives/%s/items/%s/copy?@microsoft.graph.conflictBehavior=fail",
		c.graphURL, url.PathEscape(storage.DriveID), url.PathEscape(sourcePath))

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"name": name}).
		Post(copyURL)
	if err != nil {
		return nil, errors.Transport(ctx, fmt.Errorf("copy request failed: %w", err))
	}

	c.logger.Debug("Copy folder requested",
		logger.String("source", sourcePath),
		logger.String("name", name),
		logger.Int("status", resp.StatusCode()))

	return handleCopyResponse(resp)
}

func handleCopyResponse(resp *resty.Response) (*types.CopyFolderResult, error) {
	switch resp.StatusCode() {
	case http.StatusAccepted:
		return &types.CopyFolderResult{PollingURL: resp.Header().Get("Location")}, nil
	case http.StatusOK, http.StatusCreated:
		var item DriveItem
		if err := json.Unmarshal(resp.Body(), &item); err != nil || item.ID == "" {
			return nil, errors.ProviderError("unexpected copy response")
		}
		return &types.CopyFolderResult{ID: item.ID}, nil
	case http.StatusUnauthorized:
		return nil, errors.Unauthorized("storage rejected the credentials")
	case http.StatusForbidden:
		return nil, errors.Forbidden("storage denied the copy")
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError("Template folder not found")
	case http.StatusConflict:
		return nil, errors.NewConflictError("The copy would overwrite an already existing folder")
	default:
		return nil, errors.ProviderError("copy folder failed").WithDetails("status", resp.StatusCode())
	}
}

// FolderFileIDs walks the folder tree below folder and maps every item's
// absolute path to its id.
func (c *Client) FolderFileIDs(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error) {
	start := fmt.Sprintf("%s/drives/%s/root/children", c.graphURL, url.PathEscape(storage.DriveID))
	if !folder.IsRoot() {
		start = fmt.Sprintf("%s/drives/%s/items/%s/children", c.graphURL, url.PathEscape(storage.DriveID), url.PathEscape(folder.Location))
	}

	files := make(map[string]string)
	queue := []string{start + "?$select=id,name,folder,file,parentReference&$top=200"}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		var page childrenPage
		if err := c.getJSON(ctx, storage, next, &page); err != nil {
			return nil, err
		}

		for i := range page.Value {
			item := &page.Value[i]
			files[item.Location()] = item.ID
			if item.Folder != nil && item.Folder.ChildCount > 0 {
				queue = append(queue, fmt.Sprintf("%s/drives/%s/items/%s/children?$select=id,name,folder,file,parentReference&$top=200",
					c.graphURL, url.PathEscape(storage.DriveID), url.PathEscape(item.ID)))
			}
		}
		if page.NextLink != "" {
			queue = append(queue, page.NextLink)
		}
	}

	return files, nil
}

// FilesInfo looks up every id individually. Missing or inaccessible items
// are reported through their status instead of failing the whole query.
func (c *Client) FilesInfo(ctx context.Context, storage *types.Storage, userID int64, fileIDs []string) ([]types.StorageFileInfo, error) {
	infos := make([]types.StorageFileInfo, len(fileIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(filesInfoConcurrency)

	for i, id := range fileIDs {
		g.Go(func() error {
			var item DriveItem
			itemURL := fmt.Sprintf("%s/drives/%s/items/%s?$select=id,name,parentReference",
				c.graphURL, url.PathEscape(storage.DriveID), url.PathEscape(id))

			err := c.getJSON(gctx, storage, itemURL, &item)
			switch {
			case err == nil:
				infos[i] = types.StorageFileInfo{
					ID: item.ID, Name: item.Name, Location: item.Location(),
					Status: "ok", StatusCode: http.StatusOK,
				}
			case errors.HasCode(err, errors.ErrNotFound):
				infos[i] = types.StorageFileInfo{ID: id, Status: "not_found", StatusCode: http.StatusNotFound}
			case errors.HasCode(err, errors.ErrForbidden):
				infos[i] = types.StorageFileInfo{ID: id, Status: "forbidden", StatusCode: http.StatusForbidden}
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Debug("Files info resolved",
		logger.Int64("user_id", userID),
		logger.Int("count", len(infos)))

	return infos, nil
}
