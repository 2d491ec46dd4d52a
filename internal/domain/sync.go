package domain

// KnownSet хранит уже известных подписчиков канала. Если профиль не сохранён
// (известен только идентификатор), изменения профиля для такого участника не отслеживаются.
type KnownSet struct {
	profiles map[int64]*SubscriberRecord
}

// NewKnownSetFromIDs строит множество только из идентификаторов.
func NewKnownSetFromIDs(ids []int64) KnownSet {
	ks := KnownSet{profiles: make(map[int64]*SubscriberRecord, len(ids))}
	for _, id := range ids {
		ks.profiles[id] = nil
	}
	return ks
}

// NewKnownSetFromRecords строит множество из сохранённых записей. Отписавшиеся не учитываются.
func NewKnownSetFromRecords(records []SubscriberRecord) KnownSet {
	ks := KnownSet{profiles: make(map[int64]*SubscriberRecord, len(records))}
	for i := range records {
		if !records[i].Active() {
			continue
		}
		rec := records[i]
		ks.profiles[rec.UserID] = &rec
	}
	return ks
}

// Len возвращает количество известных участников.
func (k KnownSet) Len() int {
	return len(k.profiles)
}

// Contains сообщает, известен ли пользователь.
func (k KnownSet) Contains(userID int64) bool {
	_, ok := k.profiles[userID]
	return ok
}

// Changed сообщает, изменился ли профиль известного участника.
func (k KnownSet) Changed(m Member) bool {
	rec, ok := k.profiles[m.UserID]
	if !ok || rec == nil {
		return false
	}
	return rec.ProfileDiffers(m)
}

// SyncDelta описывает результат инкрементальной синхронизации.
type SyncDelta struct {
	// Added содержит участников, которых не было в известном множестве, в порядке платформы.
	Added []Member
	// Updated содержит известных участников с изменившимся username или именем.
	Updated []Member
}

// Transitions перечисляет изменения для хранилища подписчиков.
type Transitions struct {
	Add         []Member
	Resubscribe []Member
	Update      []Member
	MarkLeft    []int64
}

// Empty сообщает, что изменений нет.
func (t Transitions) Empty() bool {
	return len(t.Add) == 0 && len(t.Resubscribe) == 0 && len(t.Update) == 0 && len(t.MarkLeft) == 0
}
