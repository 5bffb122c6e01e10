package domain

import "errors"

// ErrInvalidParameter возвращается при нечисловом или отсутствующем параметре запроса.
var ErrInvalidParameter = errors.New("некорректный параметр запроса")

// ErrInsufficientSamples возвращается если образцов таймлайнов меньше,
// чем требуется окон: конец последнего окна синтезировать нельзя.
var ErrInsufficientSamples = errors.New("недостаточно образцов таймлайнов")

// ErrIncompleteRelation возвращается если у связи поста нет времени last:
// интервал видимости ограничить нельзя.
var ErrIncompleteRelation = errors.New("связь поста без времени last")

// ErrStoreUnavailable возвращается при сбое запроса к хранилищу.
var ErrStoreUnavailable = errors.New("хранилище недоступно")

// ErrContentNotFound возвращается если ссылка на контент больше не резолвится.
var ErrContentNotFound = errors.New("контент не найден")
