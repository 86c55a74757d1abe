package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gopher0727/Strangers/internal/model"
)

// MinAge 注册和资料编辑要求的最低年龄
const MinAge = 18

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

// 密码规则提示，按检查顺序排列
const (
	MsgPasswordLength    = "Password must be at least 8 characters long."
	MsgPasswordTooLong   = "Password must be at most 72 bytes long."
	MsgPasswordUppercase = "Requires an uppercase letter."
	MsgPasswordLowercase = "Requires a lowercase letter."
	MsgPasswordNumber    = "Requires a number."
	MsgPasswordSpecial   = "Requires a special character (!@#$%^&*)."
)

var (
	emailShapeRe = regexp.MustCompile(`\S+@\S+\.\S+`)
	upperRe      = regexp.MustCompile(`[A-Z]`)
	lowerRe      = regexp.MustCompile(`[a-z]`)
	digitRe      = regexp.MustCompile(`[0-9]`)
	specialRe    = regexp.MustCompile(`[!@#$%^&*]`)
)

// ValidationErrors maps a form field to every message that applies to it.
type ValidationErrors map[string][]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(v[f], " ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends msg to field.
func (v ValidationErrors) Add(field string, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	v[field] = append(v[field], msgs...)
}

// Has reports whether field has at least one message.
func (v ValidationErrors) Has(field string) bool {
	return len(v[field]) > 0
}

// OrNil returns nil when empty so callers can `return errs.OrNil()`.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AsValidationErrors unwraps err into ValidationErrors.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// CheckPasswordPolicy returns every unmet password rule; empty means the
// password is acceptable.
func CheckPasswordPolicy(password string) []string {
	var msgs []string
	if utf8.RuneCountInString(password) < 8 {
		msgs = append(msgs, MsgPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		msgs = append(msgs, MsgPasswordTooLong)
	}
	if !upperRe.MatchString(password) {
		msgs = append(msgs, MsgPasswordUppercase)
	}
	if !lowerRe.MatchString(password) {
		msgs = append(msgs, MsgPasswordLowercase)
	}
	if !digitRe.MatchString(password) {
		msgs = append(msgs, MsgPasswordNumber)
	}
	if !specialRe.MatchString(password) {
		msgs = append(msgs, MsgPasswordSpecial)
	}
	return msgs
}

// ValidateEmail 检查邮箱的基本形状 (x@y.z)
func ValidateEmail(email string) bool {
	return emailShapeRe.MatchString(email)
}

// HashPassword 使用 bcrypt 对密码进行哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword 验证密码
func CheckPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// FormValidator runs struct-tag validation and turns failures into
// ValidationErrors using a "field.tag" keyed message table.
type FormValidator struct {
	validate *validator.Validate
	messages map[string]string
}

// NewFormValidator registers the form tags: emailshape, adult, gender and
// interest.
func NewFormValidator(messages map[string]string) *FormValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool {
		return ValidateEmail(fl.Field().String())
	})
	_ = v.RegisterValidation("adult", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.String:
			age, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
			return err == nil && age >= MinAge
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return fl.Field().Int() >= MinAge
		default:
			return false
		}
	})
	_ = v.RegisterValidation("gender", func(fl validator.FieldLevel) bool {
		_, err := model.ParseGender(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("interest", func(fl validator.FieldLevel) bool {
		_, err := model.ParseInterest(fl.Field().String())
		return err == nil
	})

	return &FormValidator{validate: v, messages: messages}
}

// Struct validates s. The result is empty when s passes.
func (f *FormValidator) Struct(s any) ValidationErrors {
	errs := ValidationErrors{}
	err := f.validate.Struct(s)
	if err == nil {
		return errs
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("form", err.Error())
		return errs
	}
	for _, fe := range fieldErrs {
		errs.Add(fe.Field(), f.message(fe.Field(), fe.Tag()))
	}
	return errs
}

func (f *FormValidator) message(field, tag string) string {
	if msg, ok := f.messages[field+"."+tag]; ok {
		return msg
	}
	return fmt.Sprintf("%s is invalid.", field)
}
