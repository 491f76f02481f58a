// Package document はKYC書類のアップロード受付を扱う。
// オブジェクトストレージが設定されている場合は署名付きURLを発行し、
// 設定されていない場合はアップロードを模擬する。
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey は利用者IDまたは書類IDが空の場合のエラー。
var ErrInvalidKey = errors.New("user id and document id are required")

// PresignedRequest は発行された署名付きリクエスト。
type PresignedRequest struct {
	URL       string
	Method    string
	ExpiresIn time.Duration
}

// Presigner は署名付きアップロードURLを発行する。
type Presigner interface {
	PresignUpload(ctx context.Context, key string) (*PresignedRequest, error)
}

// Upload はアップロード受付の結果。
type Upload struct {
	DocumentID string    `json:"document_id"`
	ObjectKey  string    `json:"object_key"`
	URL        string    `json:"upload_url,omitempty"`
	Method     string    `json:"method,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Simulated  bool      `json:"simulated"`
}

// Service はアップロード受付を行う。
type Service struct {
	presigner Presigner
	now       func() time.Time
}

// NewService はServiceを生成する。presignerがnilの場合はアップロードを模擬する。
func NewService(presigner Presigner) *Service {
	return &Service{presigner: presigner, now: time.Now}
}

// ObjectKey は書類の保存先キーを生成する。
func ObjectKey(userID, documentID string) string {
	return fmt.Sprintf("kyc/%s/%s/%s", userID, documentID, uuid.NewString())
}

// Prepare は書類のアップロードを受け付ける。
func (s *Service) Prepare(ctx context.Context, userID, documentID string) (*Upload, error) {
	if userID == "" || documentID == "" {
		return nil, ErrInvalidKey
	}

	upload := &Upload{
		DocumentID: documentID,
		ObjectKey:  ObjectKey(userID, documentID),
	}

	if s.presigner == nil {
		upload.Simulated = true
		slog.Info("document upload simulated",
			slog.String("user_id", userID),
			slog.String("document_id", documentID),
		)
		return upload, nil
	}

	req, err := s.presigner.PresignUpload(ctx, upload.ObjectKey)
	if err != nil {
		return nil, err
	}
	upload.URL = req.URL
	upload.Method = req.Method
	upload.ExpiresAt = s.now().Add(req.ExpiresIn).UTC()
	return upload, nil
}
