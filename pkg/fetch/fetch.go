// Package fetch is the client side of a share: it lists a remote share and
// pulls files or folder archives from it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/kiyor/k2share/pkg/core"
	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/token"
)

// ErrRemote is returned when the share answers with something other than
// the expected document.
var ErrRemote = errors.New("remote error")

// Client talks to one share.
type Client struct {
	*retryablehttp.Client
	Base string // e.g. http://192.168.1.10:7767
	l    *log.Logger
}

// New returns a Client for the share at base. A bare host:port gets http://.
func New(base string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		Client: c,
		Base:   strings.TrimRight(base, "/"),
		l:      core.NewLogger("@{b}", "get"),
	}
}

func (c *Client) get(ctx context.Context, uri string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.Base+uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "k2share")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %s", ErrRemote, resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// Served saves whatever the share serves at /served into dir and returns the
// written path. latest asks the share to rebuild a folder archive first.
func (c *Client) Served(ctx context.Context, dir string, latest bool) (string, error) {
	uri := "/served"
	if latest {
		uri += "?latest=1"
	}
	return c.save(ctx, uri, dir)
}

// Download saves one remote file, or a folder as zip, into dir.
func (c *Client) Download(ctx context.Context, remotePath, dir string) (string, error) {
	return c.save(ctx, "/download?path="+url.QueryEscape(token.Encode(remotePath)), dir)
}

func (c *Client) save(ctx context.Context, uri, dir string) (string, error) {
	t1 := time.Now()
	resp, err := c.get(ctx, uri)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name, err := attachmentName(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return "", fmt.Errorf("%w: short body %d of %d", ErrRemote, n, resp.ContentLength)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	c.l.Printf("%s -> %s (%s) in %v", uri, dst, humanize.Bytes(uint64(n)), time.Since(t1))
	return dst, nil
}

// attachmentName reads the file name out of a Content-Disposition header.
// Only the base name is kept.
func attachmentName(cd string) (string, error) {
	if cd == "" {
		return "", fmt.Errorf("%w: not an attachment", ErrRemote)
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	name := params["filename"]
	if u, err := url.QueryUnescape(name); err == nil {
		name = u
	}
	name = filepath.Base(filepath.FromSlash(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: bad file name %q", ErrRemote, params["filename"])
	}
	return name, nil
}

// Listing is a remote folder page.
type Listing struct {
	Index  string
	Token  string
	Parent string
	Dirs   []kfs.Entry
	Files  []kfs.Entry
}

// List reads the folder page of the remote path, the share root when empty.
func (c *Client) List(ctx context.Context, remotePath string) (*Listing, error) {
	uri := "/folder"
	if remotePath != "" {
		uri += "?path=" + url.QueryEscape(token.Encode(remotePath))
	}
	resp, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseListing(b)
}

// ParseListing extracts entries from a rendered folder page.
func ParseListing(b []byte) (*Listing, error) {
	doc, err := NewNode(b)
	if err != nil {
		return nil, err
	}
	idx := doc.First("#index")
	if idx == nil {
		return nil, fmt.Errorf("%w: not a folder page", ErrRemote)
	}
	l := &Listing{
		Index:  idx.Text(),
		Token:  tokenOf(doc.First("#current")),
		Parent: tokenOf(doc.First("#parent")),
		Dirs:   []kfs.Entry{},
		Files:  []kfs.Entry{},
	}
	row := func(n *Node, dir bool) kfs.Entry {
		return kfs.Entry{
			NavigationToken: n.Attr("data-token"),
			DisplayName:     strings.TrimSuffix(n.First("td.name").Text(), "/"),
			SizeLabel:       n.First("td.size").Text(),
			ModifiedLabel:   n.First("td.modified").Text(),
			IsDirectory:     dir,
		}
	}
	doc.Find("tr.dir").Each(func(i int, n *Node) {
		l.Dirs = append(l.Dirs, row(n, true))
	})
	doc.Find("tr.file").Each(func(i int, n *Node) {
		l.Files = append(l.Files, row(n, false))
	})
	return l, nil
}

func tokenOf(a *Node) string {
	if a == nil {
		return ""
	}
	u, err := url.Parse(a.Attr("href"))
	if err != nil {
		return ""
	}
	return u.Query().Get("path")
}
