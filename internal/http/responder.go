package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/coaching-scheduler/internal/application"
	"github.com/example/coaching-scheduler/internal/persistence"
)

var (
	errBadRequestBody  = errors.New("無効なリクエスト形式です。")
	errInvalidQuery    = errors.New("クエリパラメータが正しくありません。")
	errMissingIdentity = errors.New("X-User-ID ヘッダーを指定してください。")
	errInvalidAdmin    = errors.New("X-User-Admin ヘッダーの値が不正です。")
)

type responder struct {
	logger   *slog.Logger
	validate *validator.Validate
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger, validate: newValidator()}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (r responder) decode(w http.ResponseWriter, req *http.Request, dst any, allowEmpty bool) bool {
	ctx := req.Context()
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			r.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
			return false
		}
	}
	if err := r.validate.StructCtx(ctx, dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				Message: "入力内容に誤りがあります。",
				Errors:  translateFieldErrors(fieldErrs),
			})
			return false
		}
		r.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		vErr *application.ValidationError
		sErr *application.StorageError
	)
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "入力内容に誤りがあります。",
			Errors:  localizeValidationErrors(vErr),
		})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, application.ErrRescheduleInFlight):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "RESCHEDULE_IN_FLIGHT",
			Message:   "この会議には未処理の日程変更リクエストがあります。",
		})
	case errors.Is(err, application.ErrInvalidTransition):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "現在の状態ではこの操作を実行できません。",
		})
	case errors.Is(err, persistence.ErrInsufficientBalance):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INSUFFICIENT_CREDITS",
			Message:   "クレジット残高が不足しています。",
		})
	case errors.As(err, &sErr):
		r.loggerFor(ctx).ErrorContext(ctx, "storage failure", "error", err)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "STORAGE_UNAVAILABLE",
			Message:   "一時的に処理できません。しばらくしてから再試行してください。",
			Retryable: sErr.Retryable(),
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "title is required":
		return "タイトルは必須です。"
	case "start must be before end":
		return "終了日時は開始日時より後である必要があります。"
	case "at least one guest is required":
		return "少なくとも 1 名のゲストを指定してください。"
	case "meeting is full":
		return "定員に達しています。"
	case "must be a valid URL":
		return "有効な URL を指定してください。"
	case "unknown timezone":
		return "不明なタイムゾーンです。"
	default:
		return message
	}
}

func translateFieldErrors(errs validator.ValidationErrors) map[string]string {
	translated := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if field == "" {
			field = strings.ToLower(fe.StructField())
		}
		switch fe.Tag() {
		case "required":
			translated[field] = "必須項目です。"
		case "oneof":
			translated[field] = fmt.Sprintf("次のいずれかを指定してください: %s", fe.Param())
		case "min", "gte":
			translated[field] = fmt.Sprintf("%s 以上で指定してください。", fe.Param())
		case "max", "lte":
			translated[field] = fmt.Sprintf("%s 以下で指定してください。", fe.Param())
		case "gt":
			translated[field] = fmt.Sprintf("%s より大きい値を指定してください。", fe.Param())
		case "len":
			translated[field] = fmt.Sprintf("長さは %s で指定してください。", fe.Param())
		case "url":
			translated[field] = "有効な URL を指定してください。"
		default:
			translated[field] = "値が不正です。"
		}
	}
	return translated
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}
