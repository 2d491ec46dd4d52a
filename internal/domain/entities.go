package domain

import (
	"strings"
	"time"
)

// MemberStatus описывает статус участника канала.
type MemberStatus string

const (
	MemberStatusCreator    MemberStatus = "creator"
	MemberStatusAdmin      MemberStatus = "administrator"
	MemberStatusMember     MemberStatus = "member"
	MemberStatusRestricted MemberStatus = "restricted"
	MemberStatusLeft       MemberStatus = "left"
	MemberStatusBanned     MemberStatus = "banned"
)

// IsMember сообщает, состоит ли пользователь в канале.
func (s MemberStatus) IsMember() bool {
	switch s {
	case MemberStatusCreator, MemberStatusAdmin, MemberStatusMember, MemberStatusRestricted:
		return true
	}
	return false
}

// IsAdmin сообщает, есть ли у участника права администратора.
func (s MemberStatus) IsAdmin() bool {
	return s == MemberStatusCreator || s == MemberStatusAdmin
}

// Member описывает участника канала в том виде, в каком его отдаёт платформа.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
	Status    MemberStatus
	JoinedAt  time.Time
}

// FullName склеивает имя и фамилию.
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// HasUsername сообщает, есть ли у пользователя публичный username.
func (m Member) HasUsername() bool {
	return m.Username != ""
}

// MemberPage содержит одну страницу перечисления участников.
type MemberPage struct {
	Members []Member
	// Total равен количеству участников, которое платформа сообщила для курсора.
	Total int
}

// ChannelInfo содержит метаданные канала.
type ChannelInfo struct {
	ID           int64
	Title        string
	Username     string
	About        string
	MembersCount int
	LinkedChatID int64
	Verified     bool
	Scam         bool
	Fake         bool
	Broadcast    bool
}

// Channel описывает канал, зарегистрированный в хранилище.
type Channel struct {
	ID                int64
	TGChannelID       int64
	Title             string
	Username          string
	DiscussionGroupID int64
	AddedBy           int64
	CreatedAt         time.Time
}

// SubscriberRecord хранит подписчика канала.
type SubscriberRecord struct {
	ChannelID      int64
	UserID         int64
	Username       string
	FirstName      string
	FullName       string
	AddedAt        time.Time
	LeftAt         *time.Time
	LastActivityAt *time.Time
}

// Active сообщает, состоит ли подписчик в канале сейчас.
func (r SubscriberRecord) Active() bool {
	return r.LeftAt == nil
}

// Resubscribe возвращает запись после повторной подписки: LeftAt сбрасывается,
// AddedAt обновляется, профиль берётся из свежих данных.
func (r SubscriberRecord) Resubscribe(m Member, at time.Time) SubscriberRecord {
	r.LeftAt = nil
	r.AddedAt = at
	r.Username = m.Username
	r.FirstName = m.FirstName
	r.FullName = m.FullName()
	return r
}

// ProfileDiffers сообщает, отличается ли профиль участника от сохранённого.
// Сравнение посимвольное, с учётом регистра.
func (r SubscriberRecord) ProfileDiffers(m Member) bool {
	return r.Username != m.Username || r.FirstName != m.FirstName
}

// NewSubscriberRecord создаёт запись для впервые замеченного участника.
func NewSubscriberRecord(channelID int64, m Member, at time.Time) SubscriberRecord {
	return SubscriberRecord{
		ChannelID: channelID,
		UserID:    m.UserID,
		Username:  m.Username,
		FirstName: m.FirstName,
		FullName:  m.FullName(),
		AddedAt:   at,
	}
}

// SubscriberStats содержит агрегаты по подписчикам канала.
type SubscriberStats struct {
	Total           int
	Active          int
	WithUsername    int
	WithoutUsername int
}

// SendOptions задаёт параметры отправки личного сообщения.
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
}

// PersonalizedMessage адресовано конкретному получателю.
type PersonalizedMessage struct {
	UserID int64
	Text   string
	Opts   SendOptions
}

// Reaction описывает реакцию пользователя на сообщение канала.
type Reaction struct {
	UserID    int64
	Key       string
	MessageID int
	Date      time.Time
}

// MessageReactions группирует реакции на одно сообщение по эмодзи.
type MessageReactions struct {
	// Found равен false, если сообщение не найдено; пустой ByKey при Found=true
	// означает, что реакций пока нет.
	Found bool
	ByKey map[string][]int64
}

// UserActivity описывает результат проверки одного пользователя.
type UserActivity struct {
	InChannel    bool
	Status       MemberStatus
	Username     string
	FirstName    string
	JoinedAt     *time.Time
	LastReaction *Reaction
	Error        string
}
