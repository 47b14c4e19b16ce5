// Package validate checks user input before anything reaches a store.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"shaman/internal/domain"
)

const (
	MaxEmailLength       = 96
	MaxPasswordLength    = 128
	MinSignUpPassword    = 6
	MinProfilePassword   = 8
	MaxDescriptionWords  = 2048
	MaxTitleLength       = 50
	titleEllipsis        = "..."
	defaultFieldNameTag  = "json"
	messageRequired      = "%s is required"
	messageMaxCharacters = "%s is limited to %s characters"
)

// Error is the first failing field of a validated value.
type Error struct {
	Field   string
	Rule    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// IsValidation reports whether err came from this package.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func Errorf(field, rule, format string, args ...any) *Error {
	return &Error{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

var (
	once     sync.Once
	instance *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get(defaultFieldNameTag), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		mustRegister(v, "task_status", func(fl validator.FieldLevel) bool {
			return domain.Status(fl.Field().String()).Valid()
		})
		mustRegister(v, "priority", func(fl validator.FieldLevel) bool {
			return domain.Priority(fl.Field().String()).Valid()
		})
		mustRegister(v, "category", func(fl validator.FieldLevel) bool {
			return domain.Category(fl.Field().String()).Valid()
		})
		mustRegister(v, "model", func(fl validator.FieldLevel) bool {
			return domain.Model(fl.Field().String()).Valid()
		})
		mustRegister(v, "notification_type", func(fl validator.FieldLevel) bool {
			return domain.NotificationType(fl.Field().String()).Valid()
		})
		mustRegister(v, "step_status", func(fl validator.FieldLevel) bool {
			return domain.StepStatus(fl.Field().String()).Valid()
		})
		mustRegister(v, "recurring_pattern", func(fl validator.FieldLevel) bool {
			return domain.RecurringPattern(fl.Field().String()).Valid()
		})
		instance = v
	})
	return instance
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	err := engine().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &Error{Field: fe.Field(), Rule: fe.Tag(), Message: message(fe)}
}

func message(fe validator.FieldError) string {
	field := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf(messageRequired, field)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf(messageMaxCharacters, field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "email":
		return "Please provide a valid email address."
	case "datetime":
		return fmt.Sprintf("%s must be an RFC 3339 date-time", field)
	case "task_status", "priority", "category", "model", "notification_type", "step_status", "recurring_pattern":
		return fmt.Sprintf("invalid %s %q", field, fmt.Sprint(fe.Value()))
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// Credentials are the sign-in form fields.
type Credentials struct {
	Email    string `json:"email" validate:"required,max=96,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// SignUp validates new-account credentials.
func SignUp(email, password string) error {
	if err := Struct(Credentials{Email: email, Password: password}); err != nil {
		return err
	}
	if len(password) < MinSignUpPassword {
		return Errorf("password", "min", "Password should be at least %d characters.", MinSignUpPassword)
	}
	return nil
}

// SignIn validates sign-in credentials.
func SignIn(email, password string) error {
	return Struct(Credentials{Email: email, Password: password})
}

// Email validates a bare address, as used by password reset.
func Email(email string) error {
	return Struct(struct {
		Email string `json:"email" validate:"required,max=96,email"`
	}{Email: email})
}

// Draft validates a task draft, including the description word limit.
func Draft(d domain.TaskDraft) error {
	if err := Struct(d); err != nil {
		return err
	}
	if WordCount(d.Description) > MaxDescriptionWords {
		return Errorf("description", "max", "description exceeds %d words", MaxDescriptionWords)
	}
	return nil
}

// Patch validates a partial task update.
func Patch(p domain.TaskPatch) error {
	if err := Struct(p); err != nil {
		return err
	}
	if p.Description != nil && WordCount(*p.Description) > MaxDescriptionWords {
		return Errorf("description", "max", "description exceeds %d words", MaxDescriptionWords)
	}
	return nil
}

// Profile validates profile data before it is saved.
func Profile(p domain.ProfileData) error {
	if strings.TrimSpace(p.FullName) == "" {
		return Errorf("fullName", "required", messageRequired, "full name")
	}
	return Struct(p)
}

// NewPassword validates a password chosen from the profile or a reset link.
func NewPassword(password string) error {
	if len(password) < MinProfilePassword {
		return Errorf("password", "min", "Password must be at least %d characters.", MinProfilePassword)
	}
	if len(password) > MaxPasswordLength {
		return Errorf("password", "max", messageMaxCharacters, "password", fmt.Sprint(MaxPasswordLength))
	}
	return nil
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Description rejects empty descriptions and those above the word limit.
func Description(s string) error {
	if strings.TrimSpace(s) == "" {
		return Errorf("description", "required", messageRequired, "description")
	}
	if WordCount(s) > MaxDescriptionWords {
		return Errorf("description", "max", "description exceeds %d words", MaxDescriptionWords)
	}
	return nil
}

// Title derives a short title from a description.
func Title(description string) string {
	d := strings.TrimSpace(description)
	runes := []rune(d)
	if len(runes) <= MaxTitleLength {
		return d
	}
	return string(runes[:MaxTitleLength]) + titleEllipsis
}
