package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const photosFormField = "photos"

var errPhotosDisabled = errors.New("photo uploads are not configured")

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = stringList{}
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = stringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings")
	}
	*l = many
	return nil
}

// flexibleInt accepts a JSON number or a numeric string.
type flexibleInt int

func (n *flexibleInt) UnmarshalJSON(data []byte) error {
	var number int
	if err := json.Unmarshal(data, &number); err == nil {
		*n = flexibleInt(number)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("expected integer")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		*n = 0
		return nil
	}
	number, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("expected integer")
	}
	*n = flexibleInt(number)
	return nil
}

type locationPayload struct {
	Street     *string `json:"street"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	Country    *string `json:"country"`
	PostalCode *string `json:"postalCode"`
}

func (l locationPayload) location() users.Location {
	return users.Location{
		Street:     valueOf(l.Street),
		City:       valueOf(l.City),
		State:      valueOf(l.State),
		Country:    valueOf(l.Country),
		PostalCode: valueOf(l.PostalCode),
	}
}

type registerRequestPayload struct {
	Username  string          `json:"username"`
	Handle    string          `json:"handle"`
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	FullName  string          `json:"fullName"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	DOB       string          `json:"dob"`
	Age       flexibleInt     `json:"age"`
	Gender    string          `json:"gender"`
	Location  locationPayload `json:"location"`
	Bio       string          `json:"bio"`
	Hobbies   stringList      `json:"hobbies"`
}

func (p registerRequestPayload) input() users.RegistrationInput {
	handle := p.Username
	if strings.TrimSpace(handle) == "" {
		handle = p.Handle
	}
	return users.RegistrationInput{
		Handle:      handle,
		Email:       p.Email,
		Secret:      p.Password,
		FullName:    p.FullName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DOB,
		Age:         int(p.Age),
		Gender:      p.Gender,
		Location:    p.Location.location(),
		Bio:         p.Bio,
		Hobbies:     p.Hobbies,
	}
}

type registerResponsePayload struct {
	Message string        `json:"message"`
	User    users.Profile `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var (
		payload registerRequestPayload
		files   []*multipart.FileHeader
	)
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			writeBadRequest(c, "invalid multipart form")
			return
		}
		if payload, err = registerPayloadFromForm(form); err != nil {
			writeBadRequest(c, err.Error())
			return
		}
		files = form.File[photosFormField]
	} else if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	stored, ok := h.storePhotos(c, files)
	if !ok {
		return
	}

	input := payload.input()
	input.Photos = stored
	profile, err := h.identities.Register(c.Request.Context(), input)
	h.observe("register", err)
	if err != nil {
		h.discardPhotos(c, stored)
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerResponsePayload{Message: "User registered successfully", User: profile})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Token     string        `json:"token"`
	TokenType string        `json:"tokenType"`
	ExpiresIn int64         `json:"expiresIn"`
	UserID    string        `json:"userId"`
	User      users.Profile `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	session, err := h.identities.Authenticate(c.Request.Context(), request.Email, request.Password)
	h.observe("login", err)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		Success:   true,
		Message:   "Login successful",
		Token:     session.Token.Value,
		TokenType: "Bearer",
		ExpiresIn: session.Token.ExpiresIn(),
		UserID:    session.Profile.ID,
		User:      session.Profile,
	})
}

type profileResponsePayload struct {
	Message string        `json:"message,omitempty"`
	User    users.Profile `json:"user"`
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.identities.Profile(c.Request.Context(), c.GetString(identityIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponsePayload{User: profile})
}

type updateProfileRequestPayload struct {
	FullName  *string          `json:"fullName"`
	FirstName *string          `json:"firstName"`
	LastName  *string          `json:"lastName"`
	DOB       *string          `json:"dob"`
	Age       *flexibleInt     `json:"age"`
	Gender    *string          `json:"gender"`
	Location  *locationPayload `json:"location"`
	Bio       *string          `json:"bio"`
	Hobbies   *stringList      `json:"hobbies"`
	Status    *string          `json:"status"`
}

func (p updateProfileRequestPayload) input() users.ProfileInput {
	input := users.ProfileInput{
		FullName:    p.FullName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DOB,
		Gender:      p.Gender,
		Bio:         p.Bio,
		Status:      p.Status,
	}
	if p.Age != nil {
		age := int(*p.Age)
		input.Age = &age
	}
	if p.Location != nil {
		input.Street = p.Location.Street
		input.City = p.Location.City
		input.State = p.Location.State
		input.Country = p.Location.Country
		input.PostalCode = p.Location.PostalCode
	}
	if p.Hobbies != nil {
		input.Hobbies = *p.Hobbies
		input.HobbiesSet = true
	}
	return input
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var (
		payload updateProfileRequestPayload
		files   []*multipart.FileHeader
	)
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			writeBadRequest(c, "invalid multipart form")
			return
		}
		if payload, err = updatePayloadFromForm(form); err != nil {
			writeBadRequest(c, err.Error())
			return
		}
		files = form.File[photosFormField]
	} else if err := c.ShouldBindJSON(&payload); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	stored, ok := h.storePhotos(c, files)
	if !ok {
		return
	}

	input := payload.input()
	input.Photos = stored
	profile, err := h.identities.UpdateProfile(c.Request.Context(), c.GetString(identityIDContextKey), input)
	h.observe("update_profile", err)
	if err != nil {
		h.discardPhotos(c, stored)
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponsePayload{Message: "Profile updated successfully", User: profile})
}

type onlineRequestPayload struct {
	Online *bool `json:"online"`
}

func (h *httpHandler) handleSetOnline(c *gin.Context) {
	var request onlineRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Online == nil {
		writeBadRequest(c, "online must be a boolean")
		return
	}
	profile, err := h.identities.SetOnline(c.Request.Context(), c.GetString(identityIDContextKey), *request.Online)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponsePayload{User: profile})
}

func (h *httpHandler) handleUserCount(c *gin.Context) {
	counts, err := h.identities.CountUsers(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

type adminRegisterRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleAdminRegister(c *gin.Context) {
	var request adminRegisterRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	admin, err := h.admins.Register(c.Request.Context(), request.Email, request.Password)
	h.observe("register_admin", err)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Admin registered successfully", "admin": admin})
}

// storePhotos writes uploaded files before the workflow runs. It writes the error
// response itself and reports false when the request must stop.
func (h *httpHandler) storePhotos(c *gin.Context, files []*multipart.FileHeader) ([]string, bool) {
	if len(files) == 0 {
		return nil, true
	}
	if h.photos == nil {
		writeBadRequest(c, errPhotosDisabled.Error())
		return nil, false
	}

	uploads := make([]photos.Upload, 0, len(files))
	closers := make([]io.Closer, 0, len(files))
	defer func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}()
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			writeBadRequest(c, "unreadable photo upload")
			return nil, false
		}
		closers = append(closers, file)
		uploads = append(uploads, photos.Upload{Filename: header.Filename, Size: header.Size, Body: file})
	}

	stored, err := h.photos.SaveAll(c.Request.Context(), uploads)
	if err != nil {
		if errors.Is(err, photos.ErrInvalidUpload) || errors.Is(err, photos.ErrTooManyFiles) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_photos", "message": err.Error()})
			return nil, false
		}
		h.logger.Error("failed to store photos", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
		return nil, false
	}
	return stored, true
}

func (h *httpHandler) discardPhotos(c *gin.Context, stored []string) {
	if len(stored) > 0 && h.photos != nil {
		h.photos.Discard(c.Request.Context(), stored)
	}
}

func (h *httpHandler) observe(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	if err != nil {
		_, outcome, _ = classifyError(err)
	}
	h.metrics.ObserveWorkflow(operation, outcome)
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func registerPayloadFromForm(form *multipart.Form) (registerRequestPayload, error) {
	payload := registerRequestPayload{
		Username:  formValue(form, "username"),
		Handle:    formValue(form, "handle"),
		Email:     formValue(form, "email"),
		Password:  formValue(form, "password"),
		FullName:  formValue(form, "fullName"),
		FirstName: formValue(form, "firstName"),
		LastName:  formValue(form, "lastName"),
		DOB:       formValue(form, "dob"),
		Gender:    formValue(form, "gender"),
		Bio:       formValue(form, "bio"),
		Hobbies:   form.Value["hobbies"],
	}
	if raw := strings.TrimSpace(formValue(form, "age")); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			return registerRequestPayload{}, fmt.Errorf("age must be an integer")
		}
		payload.Age = flexibleInt(age)
	}
	location, err := locationFromForm(form)
	if err != nil {
		return registerRequestPayload{}, err
	}
	payload.Location = location
	return payload, nil
}

func updatePayloadFromForm(form *multipart.Form) (updateProfileRequestPayload, error) {
	payload := updateProfileRequestPayload{
		FullName:  formPointer(form, "fullName"),
		FirstName: formPointer(form, "firstName"),
		LastName:  formPointer(form, "lastName"),
		DOB:       formPointer(form, "dob"),
		Gender:    formPointer(form, "gender"),
		Bio:       formPointer(form, "bio"),
		Status:    formPointer(form, "status"),
	}
	if raw := formPointer(form, "age"); raw != nil {
		age, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil {
			return updateProfileRequestPayload{}, fmt.Errorf("age must be an integer")
		}
		value := flexibleInt(age)
		payload.Age = &value
	}
	if values, ok := form.Value["hobbies"]; ok {
		hobbies := stringList(values)
		payload.Hobbies = &hobbies
	}
	location, err := locationFromForm(form)
	if err != nil {
		return updateProfileRequestPayload{}, err
	}
	if location != (locationPayload{}) {
		payload.Location = &location
	}
	return payload, nil
}

// locationFromForm reads a JSON encoded "location" field, falling back to flat
// street/city/state/country/postalCode fields.
func locationFromForm(form *multipart.Form) (locationPayload, error) {
	if raw := strings.TrimSpace(formValue(form, "location")); raw != "" {
		var location locationPayload
		if err := json.Unmarshal([]byte(raw), &location); err != nil {
			return locationPayload{}, fmt.Errorf("location must be a JSON object")
		}
		return location, nil
	}
	return locationPayload{
		Street:     formPointer(form, "street"),
		City:       formPointer(form, "city"),
		State:      formPointer(form, "state"),
		Country:    formPointer(form, "country"),
		PostalCode: formPointer(form, "postalCode"),
	}, nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func formPointer(form *multipart.Form, key string) *string {
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	value := values[0]
	return &value
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
