package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"

	"github.com/useraccounts/apiserver/internal/auth"
)

const (
	maxJSONBodyBytes  = 1 << 20
	fieldFirstName    = "first_name"
	fieldLastName     = "last_name"
	fieldEmail        = "email"
	fieldPassword     = "password"
	queryParamUser    = "user"
	queryParamToken   = "token"
	errUnexpectedBody = "request body is not allowed"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9](\.?[a-zA-Z0-9_+-]+)*@([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

var errUnexpectedQuery = errors.New("query parameters are not allowed")

// requestSchema describes the JSON object an endpoint accepts. Every field
// is a string; fields outside allowed reject the request.
type requestSchema struct {
	allowed  []string
	required []string
	names    []string
	email    string
	password string
}

var createUserSchema = requestSchema{
	allowed:  []string{fieldFirstName, fieldLastName, fieldEmail, fieldPassword},
	required: []string{fieldFirstName, fieldLastName, fieldEmail, fieldPassword},
	names:    []string{fieldFirstName, fieldLastName},
	email:    fieldEmail,
	password: fieldPassword,
}

var updateUserSchema = requestSchema{
	allowed:  []string{fieldFirstName, fieldLastName, fieldPassword},
	names:    []string{fieldFirstName, fieldLastName},
	password: fieldPassword,
}

// CreateUserRequest is the validated signup payload.
type CreateUserRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// UpdateUserRequest is the validated self-update payload. Absent fields are nil.
type UpdateUserRequest struct {
	FirstName *string
	LastName  *string
	Password  *string
}

func decodeCreateUser(w http.ResponseWriter, r *http.Request) (CreateUserRequest, error) {
	fields, err := createUserSchema.validate(w, r)
	if err != nil {
		return CreateUserRequest{}, err
	}
	return CreateUserRequest{
		FirstName: fields[fieldFirstName],
		LastName:  fields[fieldLastName],
		Email:     fields[fieldEmail],
		Password:  fields[fieldPassword],
	}, nil
}

func decodeUpdateUser(w http.ResponseWriter, r *http.Request) (UpdateUserRequest, error) {
	fields, err := updateUserSchema.validate(w, r)
	if err != nil {
		return UpdateUserRequest{}, err
	}
	var req UpdateUserRequest
	if v, ok := fields[fieldFirstName]; ok {
		req.FirstName = &v
	}
	if v, ok := fields[fieldLastName]; ok {
		req.LastName = &v
	}
	if v, ok := fields[fieldPassword]; ok {
		req.Password = &v
	}
	return req, nil
}

// validate runs the checks in a fixed order and stops at the first failure:
// unknown fields, required fields, name charset, query parameters, email
// format, password length.
func (s requestSchema) validate(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	raw, err := decodeObject(w, r)
	if err != nil {
		return nil, err
	}

	var unknown []string
	for name := range raw {
		if !contains(s.allowed, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown field %q", unknown[0])
	}

	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		var str string
		if err := json.Unmarshal(value, &str); err != nil || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil, fmt.Errorf("field %q must be a string", name)
		}
		fields[name] = str
	}

	for _, name := range s.required {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("field %q is required", name)
		}
	}
	for _, name := range s.allowed {
		if value, ok := fields[name]; ok && value == "" {
			return nil, fmt.Errorf("field %q must not be empty", name)
		}
	}

	for _, name := range s.names {
		if value, ok := fields[name]; ok && !namePattern.MatchString(value) {
			return nil, fmt.Errorf("field %q must be alphanumeric", name)
		}
	}

	if r.URL.RawQuery != "" {
		return nil, errUnexpectedQuery
	}

	if s.email != "" {
		if value, ok := fields[s.email]; ok && !emailPattern.MatchString(value) {
			return nil, errors.New("invalid email address")
		}
	}

	if s.password != "" {
		if value, ok := fields[s.password]; ok && len(value) > auth.MaxPasswordBytes {
			return nil, fmt.Errorf("password must be at most %d bytes", auth.MaxPasswordBytes)
		}
	}

	return fields, nil
}

// decodeObject reads a single JSON object from the request body.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, errors.New("request body must be a JSON object")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New("request body too large")
		}
		return nil, errors.New("request body must be a JSON object")
	}
	if raw == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return raw, nil
}

// allowOnlyQuery rejects query parameters outside allowed and repeated ones.
func allowOnlyQuery(r *http.Request, allowed ...string) error {
	for name, values := range r.URL.Query() {
		if !contains(allowed, name) {
			return fmt.Errorf("unknown query parameter %q", name)
		}
		if len(values) > 1 {
			return fmt.Errorf("query parameter %q must appear once", name)
		}
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
