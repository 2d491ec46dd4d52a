package mtproto

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const dialogsBatch = 100

// Client реализует domain.ChannelClient поверх авторизованного MTProto-аккаунта.
type Client struct {
	api   *tg.Client
	peers PeerCache
	log   zerolog.Logger
}

var _ domain.ChannelClient = (*Client)(nil)

// NewClient создаёт адаптер. api должен использоваться внутри telegram.Client.Run.
func NewClient(api *tg.Client, peers PeerCache, log zerolog.Logger) *Client {
	if peers == nil {
		peers = NewMemoryPeers()
	}
	return &Client{api: api, peers: peers, log: log}
}

// ListMembers возвращает страницу участников канала.
func (c *Client) ListMembers(ctx context.Context, channelID int64, offset, limit int) (domain.MemberPage, error) {
	input, err := c.inputChannel(ctx, channelID)
	if err != nil {
		return domain.MemberPage{}, err
	}
	if offset >= offsetLimit {
		return c.pastOffsetLimit(ctx, input, offset)
	}
	page, err := c.participants(ctx, input, offset, limit)
	if err != nil {
		return domain.MemberPage{}, err
	}
	if page == nil {
		return domain.MemberPage{}, nil
	}
	users := c.indexUsers(ctx, page.Users)
	out := domain.MemberPage{Total: page.Count, Members: make([]domain.Member, 0, len(page.Participants))}
	for _, p := range page.Participants {
		if m, ok := memberFromParticipant(p, users); ok {
			out.Members = append(out.Members, m)
		}
	}
	return out, nil
}

// pastOffsetLimit отвечает на запрос страницы за пределом выдачи Telegram. Если курсор
// уже исчерпан, возвращается пустая страница; иначе оставшихся участников не получить.
func (c *Client) pastOffsetLimit(ctx context.Context, input *tg.InputChannel, offset int) (domain.MemberPage, error) {
	head, err := c.participants(ctx, input, 0, 1)
	if err != nil {
		return domain.MemberPage{}, err
	}
	if head != nil && offset >= head.Count {
		return domain.MemberPage{Total: head.Count}, nil
	}
	return domain.MemberPage{}, fmt.Errorf("смещение %d: %w", offset, domain.ErrUnsupportedScale)
}

func (c *Client) participants(ctx context.Context, input *tg.InputChannel, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
	start := time.Now()
	res, err := c.api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: input,
		Filter:  &tg.ChannelParticipantsRecent{},
		Offset:  offset,
		Limit:   limit,
	})
	metrics.ObserveNetworkRequest("mtproto", "channels.getParticipants", "participants", start, err)
	if err != nil {
		return nil, mapError("получение участников", err)
	}
	page, _ := res.(*tg.ChannelsChannelParticipants)
	return page, nil
}

// GetSelfMembership возвращает статус текущего аккаунта в канале.
func (c *Client) GetSelfMembership(ctx context.Context, channelID int64) (domain.Member, error) {
	return c.participant(ctx, channelID, &tg.InputPeerSelf{})
}

// GetMember возвращает участника; ErrNotFound, если пользователь не в канале.
func (c *Client) GetMember(ctx context.Context, channelID, userID int64) (domain.Member, error) {
	hash, _, err := c.peers.AccessHash(ctx, PeerUser, userID)
	if err != nil {
		c.log.Warn().Err(err).Int64("user", userID).Msg("mtproto: кэш пиров недоступен")
	}
	return c.participant(ctx, channelID, &tg.InputPeerUser{UserID: userID, AccessHash: hash})
}

func (c *Client) participant(ctx context.Context, channelID int64, peer tg.InputPeerClass) (domain.Member, error) {
	input, err := c.inputChannel(ctx, channelID)
	if err != nil {
		return domain.Member{}, err
	}
	start := time.Now()
	res, err := c.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     input,
		Participant: peer,
	})
	metrics.ObserveNetworkRequest("mtproto", "channels.getParticipant", "participants", start, err)
	if err != nil {
		return domain.Member{}, mapError("получение участника", err)
	}
	users := c.indexUsers(ctx, res.Users)
	m, ok := memberFromParticipant(res.Participant, users)
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return m, nil
}

// GetChannelMetadata возвращает сведения о канале.
func (c *Client) GetChannelMetadata(ctx context.Context, channelID int64) (domain.ChannelInfo, error) {
	input, err := c.inputChannel(ctx, channelID)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	start := time.Now()
	res, err := c.api.ChannelsGetFullChannel(ctx, input)
	metrics.ObserveNetworkRequest("mtproto", "channels.getFullChannel", "channels", start, err)
	if err != nil {
		return domain.ChannelInfo{}, mapError("получение канала", err)
	}
	info := domain.ChannelInfo{ID: channelID}
	if full, ok := res.FullChat.(*tg.ChannelFull); ok {
		info.About = full.About
		info.MembersCount = full.ParticipantsCount
		info.LinkedChatID = full.LinkedChatID
	}
	for _, chat := range res.Chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != channelID {
			continue
		}
		info.Title = ch.Title
		info.Username = ch.Username
		info.Verified = ch.Verified
		info.Scam = ch.Scam
		info.Fake = ch.Fake
		info.Broadcast = ch.Broadcast
	}
	return info, nil
}

// SendDirectMessage отправляет личное сообщение пользователю.
func (c *Client) SendDirectMessage(ctx context.Context, userID int64, text string, opts domain.SendOptions) error {
	hash, ok, err := c.peers.AccessHash(ctx, PeerUser, userID)
	if err != nil {
		c.log.Warn().Err(err).Int64("user", userID).Msg("mtproto: кэш пиров недоступен")
	}
	if !ok {
		return fmt.Errorf("нет access hash для %d: %w", userID, domain.ErrRecipientUnavailable)
	}

	req := message.NewSender(c.api).To(&tg.InputPeerUser{UserID: userID, AccessHash: hash})
	builder := &req.Builder
	if opts.DisableWebPagePreview {
		builder = builder.NoWebpage()
	}
	start := time.Now()
	if strings.EqualFold(opts.ParseMode, "html") {
		_, err = builder.StyledText(ctx, html.String(nil, text))
	} else {
		_, err = builder.Text(ctx, text)
	}
	metrics.ObserveNetworkRequest("mtproto", "messages.sendMessage", "messages", start, err)
	return mapError("отправка сообщения", err)
}

// ListRecentMessageIDs возвращает идентификаторы последних постов канала.
func (c *Client) ListRecentMessageIDs(ctx context.Context, channelID int64, limit int) ([]int, error) {
	peer, err := c.inputPeer(ctx, channelID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
	metrics.ObserveNetworkRequest("mtproto", "messages.getHistory", "messages", start, err)
	if err != nil {
		return nil, mapError("получение истории", err)
	}
	var messages []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		messages = r.Messages
	case *tg.MessagesMessagesSlice:
		messages = r.Messages
	case *tg.MessagesMessages:
		messages = r.Messages
	}
	ids := make([]int, 0, len(messages))
	for _, msg := range messages {
		if m, ok := msg.(*tg.Message); ok {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// ListMessageReactions возвращает реакции пользователей на пост.
func (c *Client) ListMessageReactions(ctx context.Context, channelID int64, messageID int) ([]domain.Reaction, error) {
	peer, err := c.inputPeer(ctx, channelID)
	if err != nil {
		return nil, err
	}
	var (
		out    []domain.Reaction
		offset string
	)
	for {
		start := time.Now()
		res, err := c.api.MessagesGetMessageReactionsList(ctx, &tg.MessagesGetMessageReactionsListRequest{
			Peer:   peer,
			ID:     messageID,
			Offset: offset,
			Limit:  100,
		})
		metrics.ObserveNetworkRequest("mtproto", "messages.getMessageReactionsList", "reactions", start, err)
		if err != nil {
			return nil, mapError("получение реакций", err)
		}
		c.indexUsers(ctx, res.Users)
		for _, r := range res.Reactions {
			user, ok := r.PeerID.(*tg.PeerUser)
			if !ok {
				continue
			}
			out = append(out, domain.Reaction{
				UserID:    user.UserID,
				Key:       reactionKey(r.Reaction),
				MessageID: messageID,
				Date:      time.Unix(int64(r.Date), 0).UTC(),
			})
		}
		if res.NextOffset == "" || len(res.Reactions) == 0 {
			return out, nil
		}
		offset = res.NextOffset
	}
}

func reactionKey(r tg.ReactionClass) string {
	switch v := r.(type) {
	case *tg.ReactionEmoji:
		return v.Emoticon
	case *tg.ReactionCustomEmoji:
		return "custom:" + strconv.FormatInt(v.DocumentID, 10)
	default:
		return "other"
	}
}

func (c *Client) inputPeer(ctx context.Context, channelID int64) (*tg.InputPeerChannel, error) {
	input, err := c.inputChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}, nil
}

// inputChannel находит access hash канала в кэше или в списке диалогов аккаунта.
// Канал, которого нет среди диалогов, считается ненайденным.
func (c *Client) inputChannel(ctx context.Context, channelID int64) (*tg.InputChannel, error) {
	hash, ok, err := c.peers.AccessHash(ctx, PeerChannel, channelID)
	if err != nil {
		c.log.Warn().Err(err).Int64("channel", channelID).Msg("mtproto: кэш пиров недоступен")
	}
	if ok {
		return &tg.InputChannel{ChannelID: channelID, AccessHash: hash}, nil
	}
	hash, ok, err = c.findInDialogs(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("канал %d отсутствует в диалогах аккаунта: %w", channelID, domain.ErrNotFound)
	}
	return &tg.InputChannel{ChannelID: channelID, AccessHash: hash}, nil
}

// findInDialogs листает диалоги аккаунта, пока не встретит канал, и кэширует
// access hash всех просмотренных каналов.
func (c *Client) findInDialogs(ctx context.Context, channelID int64) (int64, bool, error) {
	var (
		hash  int64
		found bool
	)
	hashes := make(map[int64]int64)
	start := time.Now()
	iter := query.GetDialogs(c.api).BatchSize(dialogsBatch).Iter()
	for !found && iter.Next(ctx) {
		ch, ok := iter.Value().Peer.(*tg.InputPeerChannel)
		if !ok {
			continue
		}
		hashes[ch.ChannelID] = ch.AccessHash
		if ch.ChannelID == channelID {
			hash, found = ch.AccessHash, true
		}
	}
	err := iter.Err()
	metrics.ObserveNetworkRequest("mtproto", "messages.getDialogs", "dialogs", start, err)
	if err != nil {
		return 0, false, mapError("получение диалогов", err)
	}
	if err := c.peers.StoreAccessHashes(ctx, PeerChannel, hashes); err != nil {
		c.log.Warn().Err(err).Msg("mtproto: не удалось сохранить access hash каналов")
	}
	return hash, found, nil
}

// indexUsers раскладывает пользователей по ID и запоминает их access hash.
func (c *Client) indexUsers(ctx context.Context, list []tg.UserClass) map[int64]*tg.User {
	users := make(map[int64]*tg.User, len(list))
	hashes := make(map[int64]int64, len(list))
	for _, u := range list {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		users[user.ID] = user
		if user.AccessHash != 0 {
			hashes[user.ID] = user.AccessHash
		}
	}
	if err := c.peers.StoreAccessHashes(ctx, PeerUser, hashes); err != nil {
		c.log.Warn().Err(err).Msg("mtproto: не удалось сохранить access hash пользователей")
	}
	return users
}

func memberFromParticipant(p tg.ChannelParticipantClass, users map[int64]*tg.User) (domain.Member, bool) {
	var (
		userID int64
		status domain.MemberStatus
		date   int
	)
	switch v := p.(type) {
	case *tg.ChannelParticipant:
		userID, status, date = v.UserID, domain.MemberStatusMember, v.Date
	case *tg.ChannelParticipantSelf:
		userID, status, date = v.UserID, domain.MemberStatusMember, v.Date
	case *tg.ChannelParticipantCreator:
		userID, status = v.UserID, domain.MemberStatusCreator
	case *tg.ChannelParticipantAdmin:
		userID, status, date = v.UserID, domain.MemberStatusAdmin, v.Date
	case *tg.ChannelParticipantBanned:
		peer, ok := v.Peer.(*tg.PeerUser)
		if !ok {
			return domain.Member{}, false
		}
		userID, status, date = peer.UserID, domain.MemberStatusRestricted, v.Date
		if v.BannedRights.ViewMessages {
			status = domain.MemberStatusBanned
		}
	case *tg.ChannelParticipantLeft:
		peer, ok := v.Peer.(*tg.PeerUser)
		if !ok {
			return domain.Member{}, false
		}
		userID, status = peer.UserID, domain.MemberStatusLeft
	default:
		return domain.Member{}, false
	}

	m := domain.Member{UserID: userID, Status: status}
	if date > 0 {
		m.JoinedAt = time.Unix(int64(date), 0).UTC()
	}
	if u, ok := users[userID]; ok {
		m.Username = u.Username
		m.FirstName = u.FirstName
		m.LastName = u.LastName
		m.IsBot = u.Bot
	}
	return m, true
}
