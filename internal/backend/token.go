package backend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/ebridge/internal/model"
)

// tokenVerifier はアクセストークン（JWT）のクレームを読み取る。
// secretが設定されている場合はHS256署名を検証し、未設定の場合は署名検証を行わない。
// 有効期限の判定はセッションのリフレッシュ処理が担うため、ここではクレームの期限検証を行わない。
type tokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret string) *tokenVerifier {
	v := &tokenVerifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// claims はアクセストークンのクレームを返す。
func (v *tokenVerifier) claims(accessToken string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if v.secret == nil {
		if _, _, err := v.parser.ParseUnverified(accessToken, claims); err != nil {
			return nil, fmt.Errorf("failed to parse access token: %w", err)
		}
		return claims, nil
	}

	token, err := v.parser.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	return claims, nil
}

// verifySession は永続化されていたセッションのアクセストークンを検証する。
// 署名検証が無効な場合は常に成功する。
func (v *tokenVerifier) verifySession(s *model.AuthSession) error {
	if v.secret == nil {
		return nil
	}
	claims, err := v.claims(s.AccessToken)
	if err != nil {
		return err
	}
	if claims.Subject != "" && s.User.ID != "" && claims.Subject != s.User.ID {
		return fmt.Errorf("access token subject %q does not match user %q", claims.Subject, s.User.ID)
	}
	return nil
}

// sessionFromToken はトークンレスポンスからセッションを組み立てる。
// 有効期限はexpires_at、expires_in、JWTのexpクレームの順に決定する。
func (v *tokenVerifier) sessionFromToken(resp *TokenResponse, now time.Time) (*model.AuthSession, error) {
	s := &model.AuthSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		User:         resp.User.identity(),
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}

	claims, err := v.claims(resp.AccessToken)
	if err != nil {
		if v.secret != nil {
			return nil, err
		}
		// 署名検証なしの場合、JWT形式でないトークンも受け入れる
		claims = &jwt.RegisteredClaims{}
	}

	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	}

	if s.User.ID == "" {
		s.User.ID = claims.Subject
	}
	if err := v.verifySession(s); err != nil {
		return nil, err
	}
	return s, nil
}
