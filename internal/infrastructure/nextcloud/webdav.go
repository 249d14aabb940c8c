package nextcloud

import (
	"encoding/xml"
	"net/url"
	"path"
	"strings"
)

const propfindBody = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <oc:fileid/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Status string  `xml:"DAV: status"`
	Prop   davProp `xml:"DAV: prop"`
}

type davProp struct {
	FileID       string       `xml:"http://owncloud.org/ns fileid"`
	ResourceType resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// fileID returns the first fileid reported with a 200 propstat
func (r *davResponse) fileID() string {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, " 200 ") && ps.Prop.FileID != "" {
			return ps.Prop.FileID
		}
	}
	return ""
}

// escapePath escapes every segment of p and keeps the separators
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// cleanLocation normalises a user-relative path to "/a/b" form
func cleanLocation(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

// ocsLocation turns an OCS path into a location relative to the user's
// home. Nextcloud reports either "/<user>/files/Demo (1)/a.txt" or the
// shorter "files/Demo (1)/a.txt"; both become "/Demo (1)/a.txt". Only the
// leading home prefix is cut, so folders named "files" survive.
func ocsLocation(p, user string) string {
	rel := strings.TrimPrefix(p, "/")
	if user != "" {
		if rest, ok := strings.CutPrefix(rel, user+"/files/"); ok {
			return cleanLocation(rest)
		}
	}
	if rest, ok := strings.CutPrefix(rel, "files/"); ok {
		return cleanLocation(rest)
	}
	return cleanLocation(p)
}
