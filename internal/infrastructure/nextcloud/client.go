// Package nextcloud implements the storage commands for Nextcloud servers
// running the OpenProject integration app. Folders are addressed by path.
package nextcloud

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/retry"
)

const filesInfoPath = "/ocs/v1.php/apps/integration_openproject/filesinfo"

// Options configures a Client
type Options struct {
	Timeout time.Duration
	Retry   *retry.Config
	Logger  logger.Logger
}

// Client talks WebDAV and OCS to Nextcloud storages
type Client struct {
	http        *resty.Client
	retryConfig *retry.Config
	logger      logger.Logger
}

// NewClient creates a new Nextcloud client
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
	return &Client{
		http:        resty.New().SetTimeout(opts.Timeout),
		retryConfig: opts.Retry,
		logger:      opts.Logger.With(logger.String("provider", string(types.ProviderNextcloud))),
	}
}

func (c *Client) request(ctx context.Context, storage *types.Storage) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetBasicAuth(storage.Username, storage.Password)
}

// davRoot returns the WebDAV files root of the storage's technical user,
// e.g. https://cloud.example.com/remote.php/dav/files/OpenProject
func davRoot(storage *types.Storage) string {
	return strings.TrimRight(storage.Host, "/") + "/remote.php/dav/files/" + url.PathEscape(storage.Username)
}

func davURL(storage *types.Storage, location string) string {
	return davRoot(storage) + escapePath(cleanLocation(location))
}

// CopyFolder copies the folder at sourcePath to destinationPath. Nextcloud
// copies synchronously, so the result always carries the new folder id.
func (c *Client) CopyFolder(ctx context.Context, storage *types.Storage, sourcePath, destinationPath string) (*types.CopyFolderResult, error) {
	if strings.TrimSpace(sourcePath) == "" || strings.TrimSpace(destinationPath) == "" {
		return nil, errors.InvalidArgument("Both source and destination paths need to be present")
	}

	resp, err := c.request(ctx, storage).
		SetHeader("Destination", davURL(storage, destinationPath)).
		SetHeader("Overwrite", "F").
		Execute("COPY", davURL(storage, sourcePath))
	if err != nil {
		return nil, errors.Transport(ctx, fmt.Errorf("copy request failed: %w", err))
	}

	c.logger.Debug("Copy folder requested",
		logger.String("source", sourcePath),
		logger.String("destination", destinationPath),
		logger.Int("status", resp.StatusCode()))

	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusNoContent:
	case http.StatusUnauthorized:
		return nil, errors.Unauthorized("storage rejected the credentials")
	case http.StatusForbidden:
		return nil, errors.Forbidden("storage denied the copy")
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError("Template folder not found")
	case http.StatusConflict, http.StatusPreconditionFailed:
		return nil, errors.NewConflictError("The copy would overwrite an already existing folder")
	default:
		return nil, errors.ProviderError("copy folder failed").WithDetails("status", resp.StatusCode())
	}

	status, err := c.propfind(ctx, storage, destinationPath, "0")
	if err != nil {
		return nil, err
	}
	if len(status.Responses) == 0 || status.Responses[0].fileID() == "" {
		return nil, errors.ProviderError("copied folder has no file id")
	}
	return &types.CopyFolderResult{ID: status.Responses[0].fileID()}, nil
}

// FolderFileIDs lists everything below folder in one PROPFIND and maps each
// item's user-relative path to its file id.
func (c *Client) FolderFileIDs(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error) {
	location := "/"
	if !folder.IsRoot() {
		location = folder.Location
	}

	status, err := c.propfind(ctx, storage, location, "infinity")
	if err != nil {
		return nil, err
	}

	prefix, err := url.PathUnescape(mustPath(davRoot(storage)))
	if err != nil {
		return nil, errors.InvalidArgument("invalid storage host")
	}
	self := cleanLocation(location)

	files := make(map[string]string, len(status.Responses))
	for i := range status.Responses {
		r := &status.Responses[i]
		href, err := url.PathUnescape(mustPath(r.Href))
		if err != nil {
			continue
		}
		loc := cleanLocation(strings.TrimPrefix(href, prefix))
		if loc == self {
			continue
		}
		if id := r.fileID(); id != "" {
			files[loc] = id
		}
	}
	return files, nil
}

// mustPath returns the path component of an absolute URL or the input
// itself when it already is a path.
func mustPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.EscapedPath()
}

func (c *Client) propfind(ctx context.Context, storage *types.Storage, location, depth string) (*multistatus, error) {
	var status multistatus
	err := retry.DoWithContextAndRetryable(ctx, func(ctx context.Context) error {
		resp, err := c.request(ctx, storage).
			SetHeader("Depth", depth).
			SetHeader("Content-Type", "application/xml").
			SetBody(propfindBody).
			Execute("PROPFIND", davURL(storage, location))
		if err != nil {
			c.logger.Warn("PROPFIND attempt failed", logger.String("location", location), logger.Error(err))
			return errors.Transport(ctx, err)
		}

		switch resp.StatusCode() {
		case http.StatusMultiStatus:
		case http.StatusUnauthorized:
			return errors.Unauthorized("storage rejected the credentials")
		case http.StatusForbidden:
			return errors.Forbidden("access to folder denied")
		case http.StatusNotFound:
			return errors.NewNotFoundError("folder not found").WithDetails("location", location)
		default:
			return errors.ProviderError("PROPFIND failed").WithDetails("status", resp.StatusCode())
		}

		if err := xml.Unmarshal(resp.Body(), &status); err != nil {
			return errors.ProviderError("malformed PROPFIND response")
		}
		return nil
	}, c.retryConfig, errors.IsDiscard)

	if err != nil {
		return nil, err
	}
	return &status, nil
}

type ocsFilesInfo struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
		} `json:"meta"`
		Data map[string]ocsFileInfo `json:"data"`
	} `json:"ocs"`
}

type ocsFileInfo struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"statuscode"`
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	Path       string      `json:"path"`
}

// FilesInfo resolves all ids with a single OCS request
func (c *Client) FilesInfo(ctx context.Context, storage *types.Storage, userID int64, fileIDs []string) ([]types.StorageFileInfo, error) {
	if len(fileIDs) == 0 {
		return []types.StorageFileInfo{}, nil
	}

	ids := make([]int64, 0, len(fileIDs))
	for _, id := range fileIDs {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, errors.InvalidArgument("nextcloud file ids are numeric").WithDetails("id", id)
		}
		ids = append(ids, n)
	}

	var body ocsFilesInfo
	err := retry.DoWithContextAndRetryable(ctx, func(ctx context.Context) error {
		resp, err := c.request(ctx, storage).
			SetHeader("OCS-APIRequest", "true").
			SetHeader("Accept", "application/json").
			SetBody(map[string]interface{}{"fileIds": ids}).
			Post(strings.TrimRight(storage.Host, "/") + filesInfoPath)
		if err != nil {
			return errors.Transport(ctx, err)
		}

		switch resp.StatusCode() {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return errors.Unauthorized("storage rejected the credentials")
		case http.StatusNotFound:
			return errors.NewNotFoundError("integration app not installed")
		default:
			return errors.ProviderError("files info request failed").WithDetails("status", resp.StatusCode())
		}

		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return errors.ProviderError("malformed files info response")
		}
		return nil
	}, c.retryConfig, errors.IsDiscard)
	if err != nil {
		return nil, err
	}

	infos := make([]types.StorageFileInfo, 0, len(fileIDs))
	for _, id := range fileIDs {
		fi, ok := body.OCS.Data[id]
		if !ok {
			infos = append(infos, types.StorageFileInfo{ID: id, Status: "not_found", StatusCode: http.StatusNotFound})
			continue
		}
		info := types.StorageFileInfo{ID: id, Name: fi.Name, Status: fi.Status, StatusCode: fi.StatusCode}
		if fi.StatusCode == http.StatusOK {
			info.Location = ocsLocation(fi.Path, storage.Username)
		}
		infos = append(infos, info)
	}

	c.logger.Debug("Files info resolved",
		logger.Int64("user_id", userID),
		logger.Int("count", len(infos)))

	return infos, nil
}
