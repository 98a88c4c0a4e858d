package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/petgo/apiserver/internal/services"
	"github.com/petgo/apiserver/internal/store"
	"github.com/petgo/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserHandler provides HTTP handlers for user accounts.
type UserHandler struct {
	userService *services.UserService
	secret      []byte
	tokenTTL    time.Duration
}

// NewUserHandler constructs a UserHandler with the provided dependencies.
func NewUserHandler(userService *services.UserService, jwtSecret string) *UserHandler {
	return &UserHandler{
		userService: userService,
		secret:      []byte(jwtSecret),
		tokenTTL:    defaultTokenTTL,
	}
}

// UserRouter registers user routes on the given router. Listing,
// registration and login are open; everything addressed by id is gated
// and owner-only.
func UserRouter(r chi.Router, userService *services.UserService, jwtSecret string, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService, jwtSecret)

	r.Get("/", handler.ListUsers)
	r.Post("/", handler.CreateUser)
	r.Post("/login", handler.Login)
	r.Route("/{userID}", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.GetUser)
		r.Put("/", handler.UpdateUser)
		r.Put("/password", handler.UpdatePassword)
		r.Delete("/", handler.DeleteUser)
	})
}

// ListUsers returns the non-secret fields of every account.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		log.Printf("failed to list users: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while fetching users.")
		return
	}

	public := make([]types.PublicUser, 0, len(users))
	for _, user := range users {
		public = append(public, user.Public())
	}
	writeSuccess(w, http.StatusOK, "Users fetched successfully.", public)
}

// CreateUser registers a new account.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Name, email, cpf and password are required.")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.CPF = strings.TrimSpace(req.CPF)
	if req.Name == "" || req.Email == "" || req.CPF == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Name, email, cpf and password are required.")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("failed to hash password: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while creating the user.")
		return
	}

	user, err := h.userService.Create(r.Context(), types.User{
		Name:         req.Name,
		Email:        req.Email,
		CPF:          req.CPF,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeFailure(w, http.StatusConflict, "Email or CPF already registered.")
			return
		}
		log.Printf("failed to create user: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while creating the user.")
		return
	}

	writeSuccess(w, http.StatusCreated, "User created successfully.", user.Public())
}

// Login verifies credentials and returns a bearer token.
//
// Unknown email and wrong password produce the identical generic body so
// account existence cannot be probed.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, http.StatusUnauthorized, "Invalid credentials.")
			return
		}
		log.Printf("failed to look up user for login: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while logging in.")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeFailure(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}

	token, err := issueToken(user.ID, user.Email, h.secret, h.tokenTTL)
	if err != nil {
		log.Printf("failed to issue token: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while logging in.")
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful.", LoginData{
		Token: token,
		User:  user.Public(),
	})
}

// GetUser returns the caller's own account.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwner(w, r, "Access denied. You can only view your own account.")
	if !ok {
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "User not found.")
			return
		}
		log.Printf("failed to fetch user %d: %v", id, err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while fetching the user.")
		return
	}

	writeSuccess(w, http.StatusOK, "", user.Public())
}

// UpdateUser rewrites the caller's name and cpf.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwner(w, r, "Access denied. You can only update your own account.")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Name and cpf are required.")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.CPF = strings.TrimSpace(req.CPF)
	if req.Name == "" || req.CPF == "" {
		writeFailure(w, http.StatusBadRequest, "Name and cpf are required.")
		return
	}

	if err := h.userService.Update(r.Context(), id, req.Name, req.CPF); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeFailure(w, http.StatusNotFound, "User not found.")
		case errors.Is(err, store.ErrDuplicate):
			writeFailure(w, http.StatusConflict, "CPF already registered by another user.")
		default:
			log.Printf("failed to update user %d: %v", id, err)
			writeFailure(w, http.StatusInternalServerError, "An internal error occurred while updating the user.")
		}
		return
	}

	writeSuccess(w, http.StatusOK, "User updated successfully.", UpdateUserData{
		ID:   id,
		Name: req.Name,
		CPF:  req.CPF,
	})
}

// UpdatePassword changes the caller's password after verifying the
// current one.
//
// The mismatch message is deliberately specific, unlike login: the caller
// is already authenticated, so there is no enumeration risk here.
func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwner(w, r, "Access denied. You can only change your own password.")
	if !ok {
		return
	}

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Current password and new password are required.")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeFailure(w, http.StatusBadRequest, "Current password and new password are required.")
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "User not found.")
			return
		}
		log.Printf("failed to fetch user %d: %v", id, err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while updating the password.")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		writeFailure(w, http.StatusUnauthorized, "Wrong current password.")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("failed to hash new password: %v", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while updating the password.")
		return
	}

	if err := h.userService.UpdatePassword(r.Context(), id, string(hashed)); err != nil {
		log.Printf("failed to update password for user %d: %v", id, err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while updating the password.")
		return
	}

	writeSuccess(w, http.StatusOK, "Password updated successfully.", nil)
}

// DeleteUser removes the caller's own account.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireOwner(w, r, "Access denied. You can only delete your own account.")
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, "User not found.")
			return
		}
		log.Printf("failed to delete user %d: %v", id, err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred while deleting the user.")
		return
	}

	writeSuccess(w, http.StatusOK, "User deleted successfully.", nil)
}

// requireOwner compares the authenticated subject to the path id verbatim
// and writes the appropriate failure when they do not match. Identity
// verification happened at the gate; ownership is this handler's concern.
func (h *UserHandler) requireOwner(w http.ResponseWriter, r *http.Request, message string) (int, bool) {
	subject, err := subjectFromContext(r.Context())
	if err != nil {
		writeFailure(w, http.StatusUnauthorized, "Access denied. Token not provided.")
		return 0, false
	}

	pathID := chi.URLParam(r, "userID")
	if subject != pathID {
		writeFailure(w, http.StatusForbidden, message)
		return 0, false
	}

	id, err := strconv.Atoi(pathID)
	if err != nil || id < 1 {
		writeFailure(w, http.StatusNotFound, "User not found.")
		return 0, false
	}
	return id, true
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	CPF      string `json:"cpf"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginData is the data payload of a successful login.
type LoginData struct {
	Token string           `json:"token"`
	User  types.PublicUser `json:"user"`
}

type UpdateUserRequest struct {
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

// UpdateUserData echoes the fields rewritten by an account update.
type UpdateUserData struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
