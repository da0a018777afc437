package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/solana"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	maxAddressLength    = 100     // Solana addresses are 44 chars, give buffer
	maxSubscriberLength = 128
	maxLabelLength      = 64
	maxSignatureLength  = 128
	defaultListLimit    = 50
	maxListLimit        = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

type trackRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Address      string `json:"address"`
	Label        string `json:"label"`
}

// handleTrack returns a handler that starts tracking an address for a subscriber.
// POST /api/v1/accounts
func handleTrack(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req trackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.DebugContext(r.Context(), "failed to decode track request", "error", err)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateSubscriber(req.SubscriberID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		label := strings.TrimSpace(req.Label)
		if err := validateLabel(label); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		account, err := svc.Track(r.Context(), req.SubscriberID, req.Address, label)
		if err != nil {
			writeServiceError(w, r, logger, "failed to track account", err)
			return
		}

		writeJSON(w, account, http.StatusCreated)
	})
}

// handleUntrack returns a handler that stops tracking an address for a subscriber.
// DELETE /api/v1/accounts/{address}?subscriber_id={id}
func handleUntrack(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		subscriberID := r.URL.Query().Get("subscriber_id")

		if err := validateSubscriber(subscriberID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := svc.Untrack(r.Context(), subscriberID, address); err != nil {
			writeServiceError(w, r, logger, "failed to untrack account", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListAccounts returns a handler that lists a subscriber's tracked accounts.
// GET /api/v1/accounts?subscriber_id={id}
func handleListAccounts(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subscriberID := r.URL.Query().Get("subscriber_id")
		if err := validateSubscriber(subscriberID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		accounts, err := svc.Accounts(r.Context(), subscriberID)
		if err != nil {
			writeServiceError(w, r, logger, "failed to list accounts", err)
			return
		}

		writeJSON(w, map[string]any{
			"subscriber_id": subscriberID,
			"accounts":      accounts,
		}, http.StatusOK)
	})
}

// handleStats returns a handler with the transaction count and holdings of an address.
// GET /api/v1/accounts/{address}/stats
func handleStats(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		stats, err := svc.Stats(r.Context(), address)
		if err != nil {
			writeServiceError(w, r, logger, "failed to read stats", err)
			return
		}

		writeJSON(w, stats, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists recorded transactions, newest first.
// GET /api/v1/accounts/{address}/transactions?limit=N
func handleListTransactions(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxListLimit {
				writeError(w, fmt.Sprintf("limit must be an integer between 1 and %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := svc.Transactions(r.Context(), address, limit)
		if err != nil {
			writeServiceError(w, r, logger, "failed to list transactions", err)
			return
		}

		writeJSON(w, map[string]any{
			"address":      address,
			"transactions": records,
		}, http.StatusOK)
	})
}

type replayRequest struct {
	Signature string `json:"signature"`
}

// handleReplay returns a handler that runs one signature through the
// processing pipeline, as if the watcher had seen it.
// POST /api/v1/accounts/{address}/replay
func handleReplay(svc Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req replayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if err := validateSignature(req.Signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		outcome, err := svc.Process(r.Context(), address, req.Signature)
		if err != nil {
			writeServiceError(w, r, logger, "failed to replay transaction", err)
			return
		}

		logger.InfoContext(r.Context(), "transaction replayed",
			"address", address,
			"signature", req.Signature,
			"outcome", outcome,
		)
		writeJSON(w, map[string]any{
			"address":   address,
			"signature": req.Signature,
			"outcome":   outcome,
		}, http.StatusOK)
	})
}

// handleWatchers returns a handler listing addresses with a live watcher.
// GET /api/v1/watchers
func handleWatchers(svc Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"addresses": svc.Watching()}, http.StatusOK)
	})
}

// writeServiceError maps service errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	var verr *validationError
	switch {
	case errors.As(err, &verr), errors.Is(err, solana.ErrInvalidAddress):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAccountExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		logger.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

func validateSignature(sig string) error {
	if sig == "" {
		return errorf("signature is required")
	}
	if len(sig) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}
	if !validAddressRegex.MatchString(sig) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	return nil
}

// validateSubscriber validates a subscriber id (a chat id or similar opaque key).
func validateSubscriber(id string) error {
	if id == "" {
		return errorf("subscriber_id is required")
	}
	if len(id) > maxSubscriberLength {
		return errorf("subscriber_id too long: maximum length is %d characters", maxSubscriberLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errorf("invalid characters in subscriber_id")
		}
	}
	return nil
}

func validateLabel(label string) error {
	if len(label) > maxLabelLength {
		return errorf("label too long: maximum length is %d characters", maxLabelLength)
	}
	for _, r := range label {
		if unicode.IsControl(r) {
			return errorf("invalid characters in label: control characters not allowed")
		}
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
