package auth

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/gestionactiva/go-activa-client/gateway"
)

const forgotPasswordSentMessage = "if the email exists, a reset link has been sent"

// ResetPasswordParams is the input for completing a password reset with an
// emailed token.
type ResetPasswordParams struct {
	Token                string `json:"token"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// ForgotPassword asks the backend to email a reset link. It returns the
// backend's message, or a neutral one that does not reveal whether the
// account exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", MissingEmailErr
	}

	raw, err := s.gw.Post(ctx, gateway.EndpointForgotPassword, map[string]string{"email": email})
	if err != nil {
		return "", errors.Wrap(err, "[Service.ForgotPassword]")
	}

	envelope := gateway.DecodeSessionEnvelope(raw)
	if envelope.Success != nil && !*envelope.Success {
		return "", stderrors.New(envelope.FailureMessage("could not send the reset email"))
	}
	if envelope.Message != "" {
		return envelope.Message, nil
	}
	return forgotPasswordSentMessage, nil
}

// ResetPassword completes the reset flow with the emailed token.
func (s *Service) ResetPassword(ctx context.Context, params ResetPasswordParams) (string, error) {
	switch {
	case params.Token == "":
		return "", MissingTokenErr
	case params.Email == "":
		return "", MissingEmailErr
	case params.Password == "":
		return "", MissingPasswordErr
	}

	raw, err := s.gw.Post(ctx, gateway.EndpointResetPassword, params)
	if err != nil {
		return "", errors.Wrap(err, "[Service.ResetPassword]")
	}

	envelope := gateway.DecodeSessionEnvelope(raw)
	if envelope.Success != nil && !*envelope.Success {
		return "", stderrors.New(envelope.FailureMessage("could not reset the password"))
	}
	if envelope.Message != "" {
		return envelope.Message, nil
	}
	return "password updated, you can now log in", nil
}
