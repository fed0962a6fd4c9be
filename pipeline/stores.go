package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/types"
)

// ChatStore 会话持久化的窄接口。
type ChatStore interface {
	FindSession(ctx context.Context, id string) (*types.Session, bool)
	SaveSession(ctx context.Context, session *types.Session) error
	AppendMessage(ctx context.Context, sessionID string, msg types.Message) error
	SetTitle(ctx context.Context, sessionID, title string) error
	BindDocument(ctx context.Context, sessionID, documentID string) error
}

// UserProfile 用户长期画像。
type UserProfile struct {
	UserID       string    `json:"user_id"`
	Summary      string    `json:"summary"`
	RecentTopics []string  `json:"recent_topics,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileStore 用户长期画像存储的窄接口。
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, bool)
	// UpdateFromExchange 用一轮（用户, 助手）消息对更新画像。
	UpdateFromExchange(ctx context.Context, userID, userMessage, assistantMessage string)
}

// ============================================================
// 内存实现
// ============================================================

// InMemoryChatStore 进程内会话存储。
type InMemoryChatStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	logger   *zap.Logger
}

// NewInMemoryChatStore 创建内存会话存储。
func NewInMemoryChatStore(logger *zap.Logger) *InMemoryChatStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryChatStore{
		sessions: make(map[string]*types.Session),
		logger:   logger,
	}
}

func (s *InMemoryChatStore) FindSession(ctx context.Context, id string) (*types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	copied.Messages = append([]types.Message(nil), session.Messages...)
	return &copied, true
}

func (s *InMemoryChatStore) SaveSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	copied := *session
	copied.Messages = append([]types.Message(nil), session.Messages...)
	s.sessions[session.ID] = &copied

	s.logger.Debug("session saved", zap.String("session_id", session.ID))
	return nil
}

func (s *InMemoryChatStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return types.NewError(types.ErrInvalidRequest, "session not found: "+sessionID)
	}
	session.Messages = append(session.Messages, msg)
	return nil
}

func (s *InMemoryChatStore) SetTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return types.NewError(types.ErrInvalidRequest, "session not found: "+sessionID)
	}
	session.Title = title
	return nil
}

func (s *InMemoryChatStore) BindDocument(ctx context.Context, sessionID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return types.NewError(types.ErrInvalidRequest, "session not found: "+sessionID)
	}
	session.DocumentID = documentID
	return nil
}

// InMemoryProfileStore 进程内用户画像存储。
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile
	logger   *zap.Logger
}

// NewInMemoryProfileStore 创建内存画像存储。
func NewInMemoryProfileStore(logger *zap.Logger) *InMemoryProfileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryProfileStore{
		profiles: make(map[string]*UserProfile),
		logger:   logger,
	}
}

func (s *InMemoryProfileStore) GetProfile(ctx context.Context, userID string) (*UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, false
	}
	copied := *p
	copied.RecentTopics = append([]string(nil), p.RecentTopics...)
	return &copied, true
}

// UpdateFromExchange 以朴素方式累积最近话题（保留最近 5 条）。
func (s *InMemoryProfileStore) UpdateFromExchange(ctx context.Context, userID, userMessage, assistantMessage string) {
	if userID == "" {
		return
	}

	topic := strings.TrimSpace(userMessage)
	if runes := []rune(topic); len(runes) > 60 {
		topic = string(runes[:60])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = &UserProfile{UserID: userID}
		s.profiles[userID] = p
	}

	if topic != "" {
		p.RecentTopics = append(p.RecentTopics, topic)
		if len(p.RecentTopics) > 5 {
			p.RecentTopics = p.RecentTopics[len(p.RecentTopics)-5:]
		}
	}
	p.Summary = "最近讨论: " + strings.Join(p.RecentTopics, "; ")
	p.UpdatedAt = time.Now()

	s.logger.Debug("profile updated", zap.String("user_id", userID))
}
