package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/mq"
)

// TokenIssuer mints and checks email verification tokens. Tokens are signed
// JWTs bound to a user id; clients treat them as opaque strings.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("verification secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("verification token ttl must be positive")
	}
	return &TokenIssuer{secret: secret, ttl: ttl}, nil
}

// TTL is the validity window of a token, measured from issue time.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue returns a fresh token for userID issued at now.
func (t *TokenIssuer) Issue(userID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate checks the signature, subject and expiry of token as of now.
func (t *TokenIssuer) Validate(token, userID string, now time.Time) error {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject != userID {
		return ErrTokenInvalid
	}
	return nil
}

func tokensEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

const verificationKind = "user.verification"

// VerificationMessage is the payload handed to the notification channel.
type VerificationMessage struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier dispatches verification messages to an external channel.
type Notifier interface {
	SendVerification(ctx context.Context, msg VerificationMessage) error
}

// Publisher is the subset of the message queue the notifier needs.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, value any, attrs map[string]string) (string, error)
}

// QueueNotifier publishes verification messages to a message queue channel.
type QueueNotifier struct {
	queue   Publisher
	channel string
	baseURL string
}

func NewQueueNotifier(queue Publisher, channel, baseURL string) *QueueNotifier {
	return &QueueNotifier{
		queue:   queue,
		channel: channel,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (n *QueueNotifier) SendVerification(ctx context.Context, msg VerificationMessage) error {
	msg.Link = VerificationLink(n.baseURL, msg.Email, msg.Token)
	_, err := n.queue.PublishJSON(ctx, n.channel, msg, map[string]string{
		mq.AttrKind: verificationKind,
	})
	return err
}

// VerificationLink builds the URL a user follows to verify their address.
func VerificationLink(baseURL, email, token string) string {
	q := url.Values{}
	q.Set("user", email)
	q.Set("token", token)
	return fmt.Sprintf("%s/v1/user/verify?%s", strings.TrimRight(baseURL, "/"), q.Encode())
}

// LogDelivery returns a queue handler that delivers verification messages to
// the log sink. Malformed messages are rejected so the broker can drop them.
func LogDelivery(log logging.Logger) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		var payload VerificationMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Error(ctx, "malformed verification message", "message_id", msg.ID, "error", err)
			return err
		}
		if payload.Email == "" || payload.Link == "" {
			log.Error(ctx, "incomplete verification message", "message_id", msg.ID)
			return errors.New("incomplete verification message")
		}
		log.Info(ctx, "verification email",
			"message_id", msg.ID,
			"user_id", payload.UserID,
			"to", payload.Email,
			"link", payload.Link,
			"expires_at", payload.ExpiresAt,
		)
		return nil
	}
}
