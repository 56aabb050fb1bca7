package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/pitchcheck/internal/model"
	"github.com/hitoshi/pitchcheck/internal/supabase"
)

// ConfirmByEmail はメールアドレスからユーザーを探し、メールを確認済みにする。
func (s *Service) ConfirmByEmail(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return model.NewValidationError(model.ErrCodeInvalidInput, "Email is required")
	}
	if !s.admin.AdminConfigured() {
		s.recorder.RecordAutoConfirm("not_configured")
		return model.NewConfigurationError()
	}

	identity, err := s.findIdentityByEmail(ctx, email)
	if err != nil {
		s.recorder.RecordAutoConfirm("error")
		s.logger.Error("error listing users", slog.String("error", err.Error()))
		return storeError(err)
	}
	if identity == nil {
		s.recorder.RecordAutoConfirm("not_found")
		return model.NewUserNotFoundError()
	}

	return s.confirm(ctx, identity.ID)
}

// ConfirmByID はユーザーIDを指定してメールを確認済みにする。
func (s *Service) ConfirmByID(ctx context.Context, userID, email string) error {
	if userID == "" || email == "" {
		return model.NewValidationError(model.ErrCodeInvalidInput, "User ID and email are required")
	}
	if !s.admin.AdminConfigured() {
		s.recorder.RecordAutoConfirm("not_configured")
		return model.NewConfigurationError()
	}
	return s.confirm(ctx, userID)
}

func (s *Service) confirm(ctx context.Context, userID string) error {
	if err := s.admin.ConfirmEmail(ctx, userID); err != nil {
		s.recorder.RecordAutoConfirm("error")
		s.logger.Error("error confirming user email",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return storeError(err)
	}
	s.recorder.RecordAutoConfirm("success")
	s.logger.Info("user email confirmed", slog.String("user_id", userID))
	return nil
}

// findIdentityByEmail はユーザー一覧をページ順にたどってメールアドレスが一致するユーザーを探す。
func (s *Service) findIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	for page := 1; page <= s.config.ListUsersMaxPages; page++ {
		identities, err := s.admin.ListUsers(ctx, page, s.config.ListUsersPerPage)
		if err != nil {
			return nil, err
		}
		for i := range identities {
			if identities[i].Email == email {
				return &identities[i], nil
			}
		}
		if len(identities) < s.config.ListUsersPerPage {
			return nil, nil
		}
	}
	return nil, nil
}

// storeError は基盤のエラーをメッセージを保ったままシステムエラーに変換する。
func storeError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	e := model.NewUnexpectedError()
	if msg := supabase.MessageOf(err); msg != "" {
		e.Message = msg
	}
	return e
}
