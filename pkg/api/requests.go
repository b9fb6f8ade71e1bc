package api

import "github.com/google/uuid"

// chatRequest is the POST /chat/ body.
type chatRequest struct {
	UserID    string     `json:"user_id" binding:"required"`
	SessionID *uuid.UUID `json:"session_id"`
	Message   string     `json:"message" binding:"required"`
}

// consolidateRequest is the POST /consolidate/ body.
type consolidateRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
