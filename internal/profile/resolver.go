package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ebridge/internal/model"
)

// Store はプロフィールの永続化インターフェース。
type Store interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	// Upsert はプロフィールを冪等に作成し、永続化された行を返す。
	// 同一IDの行が既に存在する場合は既存の行を返す。
	Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error)
}

// Outcome はプロフィール解決の結果種別。
type Outcome string

const (
	OutcomeFound        Outcome = "found"
	OutcomeCreated      Outcome = "created"
	OutcomeLookupFailed Outcome = "lookup_failed"
	OutcomeCreateFailed Outcome = "create_failed"
)

// Recorder はプロフィール解決の結果を記録する。
type Recorder interface {
	RecordProfileResolution(outcome string)
}

// Resolver はIdentityに対応するプロフィールを取得し、存在しなければ既定値で作成する。
type Resolver struct {
	store    Store
	defaults *Defaults
	recorder Recorder
}

// NewResolver はResolverを生成する。recorderはnilでもよい。
func NewResolver(store Store, defaults *Defaults, recorder Recorder) *Resolver {
	if defaults == nil {
		defaults = BuiltinDefaults()
	}
	return &Resolver{store: store, defaults: defaults, recorder: recorder}
}

// Resolve はIdentityのプロフィールを返す。
// 存在しない場合は予約済みIdentity表から既定プロフィールを生成して冪等に作成し、
// 永続化された行を返す。取得・作成の失敗はエラーとして返し、再試行しない。
func (r *Resolver) Resolve(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
	existing, err := r.store.FindByID(ctx, identity.ID)
	if err != nil {
		r.record(OutcomeLookupFailed)
		return nil, fmt.Errorf("failed to look up profile: %w", err)
	}
	if existing != nil {
		r.record(OutcomeFound)
		return existing, nil
	}

	draft := r.defaults.Synthesize(identity)
	created, err := r.store.Upsert(ctx, draft)
	if err != nil {
		r.record(OutcomeCreateFailed)
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	slog.Info("profile created",
		slog.String("user_id", identity.ID),
		slog.String("role", string(created.Role)),
		slog.String("kyc_status", string(created.KYCStatus)),
	)
	r.record(OutcomeCreated)
	return created, nil
}

func (r *Resolver) record(outcome Outcome) {
	if r.recorder != nil {
		r.recorder.RecordProfileResolution(string(outcome))
	}
}
