package domain

import "time"

// TimelineSample описывает начало одного просмотра ленты пользователем.
type TimelineSample struct {
	ID        string
	UserID    int64
	StartTime time.Time
	GeoIP     string
}

// Window — восстановленный интервал, в течение которого лента была на экране.
// End последнего окна синтезируется, а не наблюдается.
type Window struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Impression — одна единица контента, показанная внутри окна.
type Impression struct {
	TimelineID string `json:"timelineId"`
	ContentRef string `json:"contentRef"`
	Order      int    `json:"order"`
}

// ContentUnit содержит метаданные единицы контента без тяжёлого payload.
type ContentUnit struct {
	Ref     string    `json:"ref"`
	PostID  int64     `json:"postId"`
	Source  string    `json:"source"`
	SavedAt time.Time `json:"savedAt"`
}

// PostRelation связывает пост с множеством видевших его пользователей.
// Last — самое позднее время связи по всем пользователям; нулевое значение
// означает, что интервал видимости ограничить нельзя.
type PostRelation struct {
	PostID int64
	Users  []int64
	Last   time.Time
}

// PresenceRecord — свидетельство того, что конкретный refresh показал пост.
type PresenceRecord struct {
	RefreshID    string    `json:"refreshId"`
	Order        int       `json:"order"`
	Type         string    `json:"type"`
	CreationTime time.Time `json:"creationTime"`
}

// RefreshEvent — повторный заход пользователя в ленту.
type RefreshEvent struct {
	UserID      int64
	RefreshID   string
	RefreshTime time.Time
}

// Observation — итоговая единица корреляции: был ли пост виден при данном
// refresh. Order и Type заполняются только при presence=true.
type Observation struct {
	RefreshTime   string `json:"refreshTime"`
	Presence      bool   `json:"presence"`
	Order         *int   `json:"order,omitempty"`
	Type          string `json:"type,omitempty"`
	UserPseudonym string `json:"userPseudonym"`
}

// RefreshMap — результат конвейера окон: окна, показы по позициям окон
// и дедуплицированные метаданные контента.
type RefreshMap struct {
	Timelines   []Window       `json:"timelines"`
	Impressions [][]Impression `json:"impressions"`
	Metadata    []ContentUnit  `json:"metadata"`
}

// CountryCount — строка гистограммы по странам.
type CountryCount struct {
	Country string
	Number  int64
}

// Alarm описывает событие сбоя конвейера.
type Alarm struct {
	ID        string    `json:"id"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
