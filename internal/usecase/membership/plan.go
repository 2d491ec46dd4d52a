package membership

import "tg-channel-sync/internal/domain"

// Plan сравнивает полный снимок участников с сохранёнными записями.
// Отписавшиеся отмечаются только для полного снимка: при complete=false
// отсутствие участника в списке ничего не доказывает.
func Plan(records []domain.SubscriberRecord, members []domain.Member, complete bool) domain.Transitions {
	byID := make(map[int64]domain.SubscriberRecord, len(records))
	for _, rec := range records {
		byID[rec.UserID] = rec
	}

	var tr domain.Transitions
	present := make(map[int64]struct{}, len(members))
	for _, m := range members {
		if m.IsBot {
			continue
		}
		present[m.UserID] = struct{}{}
		rec, ok := byID[m.UserID]
		switch {
		case !ok:
			tr.Add = append(tr.Add, m)
		case !rec.Active():
			tr.Resubscribe = append(tr.Resubscribe, m)
		case rec.ProfileDiffers(m):
			tr.Update = append(tr.Update, m)
		}
	}

	if !complete {
		return tr
	}
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		if _, ok := present[rec.UserID]; !ok {
			tr.MarkLeft = append(tr.MarkLeft, rec.UserID)
		}
	}
	return tr
}

// PlanDelta превращает результат инкрементального прохода в изменения хранилища.
// Новые участники, которые раньше отписались, возвращаются, а не добавляются заново.
func PlanDelta(records []domain.SubscriberRecord, delta domain.SyncDelta) domain.Transitions {
	left := make(map[int64]struct{})
	for _, rec := range records {
		if !rec.Active() {
			left[rec.UserID] = struct{}{}
		}
	}

	tr := domain.Transitions{Update: delta.Updated}
	for _, m := range delta.Added {
		if _, ok := left[m.UserID]; ok {
			tr.Resubscribe = append(tr.Resubscribe, m)
			continue
		}
		tr.Add = append(tr.Add, m)
	}
	return tr
}
