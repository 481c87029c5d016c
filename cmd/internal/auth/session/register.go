package session

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"crm/cmd/internal/auth/identity"

	"github.com/go-playground/validator/v10"
)

// Registration is the register payload. Exactly one of CreateCompany or JoinCompany must be set.
type Registration struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`

	CreateCompany *CreateCompany `json:"createCompany,omitempty" validate:"omitempty"`
	JoinCompany   *JoinCompany   `json:"joinCompany,omitempty" validate:"omitempty"`
}

// CreateCompany registers the user as the owner of a new company.
type CreateCompany struct {
	Name     string `json:"companyName" validate:"required,min=2,max=200"`
	Industry string `json:"industry,omitempty" validate:"omitempty,max=100"`
	Size     string `json:"companySize,omitempty" validate:"omitempty,max=50"`
	Website  string `json:"website,omitempty" validate:"omitempty,url"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Currency string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// JoinCompany attaches the user to an existing company. InviteKey takes precedence over CompanyID.
type JoinCompany struct {
	CompanyID string `json:"companyId,omitempty" validate:"required_without=InviteKey"`
	InviteKey string `json:"inviteKey,omitempty"`
}

// LoginForm is the validated login payload.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// formValidator wraps go-playground/validator with JSON field names.
type formValidator struct {
	v *validator.Validate
}

func newFormValidator() *formValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &formValidator{v: v}
}

func (f *formValidator) check(op string, form any) *Error {
	err := f.v.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Op: op, Kind: KindValidationFailed, Message: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return validationError(op, fields)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters long", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "timezone":
		return fmt.Sprintf("%s must be an IANA time zone", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func validationError(op string, fields map[string]string) *Error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fields[k])
	}
	return &Error{
		Op:      op,
		Kind:    KindValidationFailed,
		Message: strings.Join(parts, "; "),
		Fields:  fields,
	}
}

// validateRegistration checks the payload before any network call and builds the signup request.
func (c *Controller) validateRegistration(op string, r Registration) (identity.SignupRequest, *Error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)

	switch {
	case r.CreateCompany == nil && r.JoinCompany == nil:
		return identity.SignupRequest{}, validationError(op, map[string]string{
			"signupType": "choose to create a company or join an existing one",
		})
	case r.CreateCompany != nil && r.JoinCompany != nil:
		return identity.SignupRequest{}, validationError(op, map[string]string{
			"signupType": "create a company or join one, not both",
		})
	}

	if verr := c.forms.check(op, r); verr != nil {
		return identity.SignupRequest{}, verr
	}

	req := identity.SignupRequest{
		Name:     r.Name,
		Email:    r.Email,
		Password: r.Password,
	}
	if cc := r.CreateCompany; cc != nil {
		req.SignupType = identity.SignupCreateCompany
		req.CompanyName = strings.TrimSpace(cc.Name)
		req.Industry = cc.Industry
		req.CompanySize = cc.Size
		req.Website = cc.Website
		req.Timezone = cc.Timezone
		req.Currency = strings.ToUpper(cc.Currency)
		return req, nil
	}

	jc := r.JoinCompany
	req.SignupType = identity.SignupJoinCompany
	if key := strings.TrimSpace(jc.InviteKey); key != "" {
		req.InviteKey = key
	} else {
		req.CompanyID = strings.TrimSpace(jc.CompanyID)
	}
	return req, nil
}
