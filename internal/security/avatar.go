package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

var (
	// ErrNotImage は取得したコンテンツが画像でない場合のエラー。
	ErrNotImage = errors.New("avatar is not an image")
	// ErrAvatarTooLarge はアバター画像がサイズ上限を超えた場合のエラー。
	ErrAvatarTooLarge = errors.New("avatar exceeds size limit")
)

// Avatar は取得したアバター画像。
type Avatar struct {
	ContentType string
	Data        []byte
}

// AvatarFetcher はプロフィールのアバターURLから画像を取得する。
// ブラウザに第三者の画像ホストを直接参照させず、ポータル経由で配信するために使う。
type AvatarFetcher struct {
	guard   URLGuard
	client  *http.Client
	maxSize int64
}

// NewAvatarFetcher はAvatarFetcherを生成する。
func NewAvatarFetcher(guard URLGuard, timeout time.Duration, maxSize int64) *AvatarFetcher {
	return &AvatarFetcher{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		maxSize: maxSize,
	}
}

// Fetch はrawURLの画像を取得する。image/*以外やmaxSizeを超える応答はエラーとする。
func (f *AvatarFetcher) Fetch(ctx context.Context, rawURL string) (*Avatar, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build avatar request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch avatar: status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || len(mediaType) < 6 || mediaType[:6] != "image/" {
		return nil, ErrNotImage
	}
	if resp.ContentLength > f.maxSize {
		return nil, ErrAvatarTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, ErrAvatarTooLarge
	}

	return &Avatar{ContentType: mediaType, Data: data}, nil
}
