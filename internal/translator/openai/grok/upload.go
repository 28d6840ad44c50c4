package grok

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"time"

	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"
)

const (
	maxUploadBytes  int64 = 10 * 1024 * 1024
	downloadTimeout       = 20 * time.Second
	defaultMIME           = "image/jpeg"
)

// UploadError codes.
const (
	UploadInvalidURL         = "INVALID_URL"
	UploadInvalidImage       = "INVALID_IMAGE"
	UploadTooLarge           = "FILE_TOO_LARGE"
	UploadInvalidContentType = "INVALID_CONTENT_TYPE"
	UploadAPIError           = "API_ERROR"
)

// UploadError reports why an attached image could not be sent to Grok.
type UploadError struct {
	Code    string
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	msg := "grok upload: " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error { return e.Err }

// StatusCode is 400 for images rejected locally and 502 when Grok refused them.
func (e *UploadError) StatusCode() int {
	if e.Code == UploadAPIError {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

var (
	disallowedHosts = map[string]bool{
		"localhost": true,
		"127.0.0.1": true,
		"0.0.0.0":   true,
	}
	disallowedPrefixes = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
		netip.MustParsePrefix("169.254.0.0/16"),
	}
	dataURIPattern = regexp.MustCompile(`^data:([a-zA-Z0-9]+/[a-zA-Z0-9.+-]+);base64,`)
)

// Resolver looks up the addresses of a host; *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Uploader sends request images to Grok's upload endpoint.
type Uploader struct {
	cfg      *config.Config
	client   *grokauth.GrokHTTPClient
	download *grokauth.GrokHTTPClient
	resolver Resolver
}

// NewUploader uses client for Grok calls and a redirect-free copy of it for downloads.
func NewUploader(cfg *config.Config, client *grokauth.GrokHTTPClient) *Uploader {
	if client == nil {
		client = grokauth.NewGrokHTTPClient(cfg, "")
	}
	return &Uploader{
		cfg:      cfg,
		client:   client,
		download: client.WithoutRedirects(),
		resolver: net.DefaultResolver,
	}
}

// UploadAll uploads images concurrently and returns their file ids in input order.
func (u *Uploader) UploadAll(ctx context.Context, token grokauth.GrokTokenStorage, images []string) ([]string, error) {
	ids := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, image := range images {
		g.Go(func() error {
			id, _, err := u.Upload(gctx, token, image)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Upload accepts an https URL, a data:image URI or bare base64 and returns
// Grok's fileMetadataId and fileUri.
func (u *Uploader) Upload(ctx context.Context, token grokauth.GrokTokenStorage, image string) (fileID, fileURI string, err error) {
	image = strings.TrimSpace(image)
	var encoded, mimeType string
	switch {
	case image == "":
		return "", "", &UploadError{Code: UploadInvalidImage, Message: "empty image"}
	case strings.Contains(image, "://"):
		encoded, mimeType, err = u.fetchBase64Image(ctx, image)
	default:
		encoded, mimeType, err = decodeInlineImage(image)
	}
	if err != nil {
		return "", "", err
	}

	body, err := json.Marshal(map[string]any{
		"fileName":     resolveUploadFileName(mimeType),
		"fileMimeType": mimeType,
		"content":      encoded,
	})
	if err != nil {
		return "", "", &UploadError{Code: UploadAPIError, Message: "encode upload payload", Err: err}
	}

	headers := grokauth.BuildHeaders(u.cfg, token.SSOToken, token.CFClearance, grokauth.HeaderOptions{Path: grokauth.UploadPath})
	resp, err := u.client.Post(ctx, grokauth.Endpoint(u.cfg, grokauth.UploadPath), headers, body)
	if err != nil {
		return "", "", &UploadError{Code: UploadAPIError, Message: "upload request failed", Err: err}
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	data := resp.Bytes()
	if resp.StatusCode != http.StatusOK {
		log.Debugf("grok translator: upload failed status=%d body=%s", resp.StatusCode, summarizeResponse(data))
		return "", "", &UploadError{Code: UploadAPIError, Message: fmt.Sprintf("upload failed with status %d", resp.StatusCode)}
	}
	fileID = gjson.GetBytes(data, "fileMetadataId").String()
	fileURI = gjson.GetBytes(data, "fileUri").String()
	if fileID == "" || fileURI == "" {
		return "", "", &UploadError{Code: UploadAPIError, Message: "upload response missing file information"}
	}
	log.Debugf("grok translator: uploaded image %s", fileID)
	return fileID, fileURI, nil
}

// ValidateImageURL admits only https URLs whose host is public, both as
// written and after DNS resolution.
func (u *Uploader) ValidateImageURL(ctx context.Context, raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(parsed.Scheme, "https") || parsed.Hostname() == "" {
		return nil, &UploadError{Code: UploadInvalidURL, Message: "only https image URLs are allowed"}
	}
	blocked := &UploadError{Code: UploadInvalidURL, Message: "image host resolves to a private address"}
	if addr, errParse := netip.ParseAddr(parsed.Hostname()); errParse == nil {
		if isDisallowedAddr(addr) {
			return nil, blocked
		}
		return parsed, nil
	}
	host, err := idna.Lookup.ToASCII(strings.ToLower(parsed.Hostname()))
	if err != nil {
		return nil, &UploadError{Code: UploadInvalidURL, Message: "invalid image host", Err: err}
	}
	if disallowedHosts[host] {
		return nil, blocked
	}

	addrs, err := u.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &UploadError{Code: UploadInvalidURL, Message: "resolve image host", Err: err}
	}
	for _, addr := range addrs {
		if isDisallowedAddr(addr) {
			return nil, blocked
		}
	}
	return parsed, nil
}

func isDisallowedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, prefix := range disallowedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (u *Uploader) fetchBase64Image(ctx context.Context, imageURL string) (encoded, mimeType string, err error) {
	target, err := u.ValidateImageURL(ctx, imageURL)
	if err != nil {
		return "", "", err
	}

	downloadCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	resp, err := u.download.GetStream(downloadCtx, target.String(), nil)
	if err != nil {
		return "", "", &UploadError{Code: UploadInvalidImage, Message: "download image", Err: err}
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", &UploadError{Code: UploadInvalidImage, Message: fmt.Sprintf("unexpected image status %d", resp.StatusCode)}
	}
	if resp.ContentLength > maxUploadBytes {
		return "", "", &UploadError{Code: UploadTooLarge, Message: "image exceeds 10MB"}
	}

	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]))
	if mimeType == "" {
		mimeType = defaultMIME
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", "", &UploadError{Code: UploadInvalidContentType, Message: "only image content is allowed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes+1))
	if err != nil {
		return "", "", &UploadError{Code: UploadInvalidImage, Message: "read image", Err: err}
	}
	if int64(len(data)) > maxUploadBytes {
		return "", "", &UploadError{Code: UploadTooLarge, Message: "image exceeds 10MB"}
	}
	return base64.StdEncoding.EncodeToString(data), mimeType, nil
}

// decodeInlineImage handles data:image URIs and bare base64 payloads.
func decodeInlineImage(image string) (encoded, mimeType string, err error) {
	mimeType = defaultMIME
	encoded = image
	if strings.HasPrefix(image, "data:") {
		match := dataURIPattern.FindStringSubmatch(image)
		if match == nil {
			return "", "", &UploadError{Code: UploadInvalidImage, Message: "unsupported data URI"}
		}
		mimeType = strings.ToLower(match[1])
		encoded = image[len(match[0]):]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", "", &UploadError{Code: UploadInvalidContentType, Message: "only image content is allowed"}
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", &UploadError{Code: UploadInvalidImage, Message: "invalid base64 image", Err: err}
	}
	if len(decoded) == 0 {
		return "", "", &UploadError{Code: UploadInvalidImage, Message: "empty image"}
	}
	if int64(len(decoded)) > maxUploadBytes {
		return "", "", &UploadError{Code: UploadTooLarge, Message: "image exceeds 10MB"}
	}
	return encoded, mimeType, nil
}

func resolveUploadFileName(mimeType string) string {
	ext := "jpg"
	if _, sub, ok := strings.Cut(mimeType, "/"); ok {
		sub = strings.TrimSpace(strings.SplitN(sub, "+", 2)[0])
		if sub != "" && sub != "jpeg" {
			ext = sub
		}
	}
	return "image." + ext
}
