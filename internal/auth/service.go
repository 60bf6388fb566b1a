// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/productica/creditd/internal/account"
	"github.com/productica/creditd/internal/model"
	"github.com/productica/creditd/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string // "google", "github" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// AccountProvisioner はログイン時のアカウントプロビジョニングと
// サインアウト時のミラー破棄のインターフェース。
// 初回ログインでは初期付与付きのアカウントを作成し、2回目以降は既存アカウントを返す。
type AccountProvisioner interface {
	Provision(ctx context.Context, params account.ProvisionParams) (*model.Account, error)
	// ClearMirror はプロセス内の残高ミラーを破棄する。
	ClearMirror(accountID string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	provisioner AccountProvisioner
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	accountRepo repository.AccountRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	provisioner AccountProvisioner,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	accountRepo repository.AccountRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		provisioner: provisioner,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		accountRepo: accountRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 初回ログインの場合はアカウントを初期付与付きでプロビジョニングし、
// identitiesレコードを作成する。2回目以降はidentitiesテーブルで
// 既存アカウントを特定してログインする。プロビジョニングは冪等であり、
// 同一identityでの再ログインが初期付与を重複させることはない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.Account, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存アカウントを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var accountID string
	newIdentity := identity == nil
	if newIdentity {
		accountID = uuid.New().String()
	} else {
		accountID = identity.AccountID
	}

	// 3. アカウントをプロビジョニング（既存なら無変更で読み込まれる）
	acct, err := s.provisioner.Provision(ctx, account.ProvisionParams{
		AccountID:   accountID,
		Email:       userInfo.Email,
		DisplayName: userInfo.Name,
		AvatarURL:   userInfo.AvatarURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to provision account: %w", err)
	}

	if newIdentity {
		if err := s.identRepo.Create(ctx, &model.Identity{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      time.Now(),
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to create identity: %w", err)
		}
		slog.Info("新規アカウントでログインしました",
			slog.String("account_id", accountID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		slog.Info("既存アカウントでログインしました",
			slog.String("account_id", accountID),
			slog.String("provider", userInfo.Provider),
		)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, acct, nil
}

// Logout はセッションとプロセス内の残高ミラーを破棄する。
// ミラーを特定するため、セッションの削除前にアカウントを解決する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	// 期限切れ等でセッションが見つからない場合もCookieの破棄は進める
	if session != nil {
		s.provisioner.ClearMirror(session.AccountID)
		slog.Info("ログアウトしました",
			slog.String("session_id", sessionID),
			slog.String("account_id", session.AccountID),
		)
		return nil
	}

	slog.Info("ログアウトしました", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentAccount はセッションから現在のアカウントを取得する。
func (s *Service) GetCurrentAccount(ctx context.Context, sessionID string) (*model.Account, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	acct, err := s.accountRepo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account not found")
	}

	return acct, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, accountID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		AccountID: accountID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
