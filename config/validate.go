package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息使用 yaml 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags first, then the cross-field rules tags cannot express.
func Validate(cfg AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return ErrInvalid(strings.Join(msgs, "; "))
		}
		return ErrInvalid(err.Error())
	}

	switch cfg.Features.Mode {
	case "count":
		if len(cfg.Features.Windows) == 0 {
			return ErrInvalid("features.windows is required in count mode")
		}
	case "time":
		if len(cfg.Features.Durations) == 0 {
			return ErrInvalid("features.durations is required in time mode")
		}
	}
	return nil
}

// ValidateConfig is an alias of Validate.
func ValidateConfig(cfg AppConfig) error {
	return Validate(cfg)
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace 形如 AppConfig.data.root，去掉根类型名
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicates", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
