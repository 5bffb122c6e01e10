package reality

import (
	"math/rand"
	"strings"
	"sync"
)

// RandSource — источник случайности для псевдонимов. Сервис делит один
// источник между конкурентными запросами, поэтому реализация обязана быть
// потокобезопасной; тесты подставляют детерминированный источник.
type RandSource interface {
	Int63n(n int64) int64
}

// lockedRand прячет *rand.Rand за мьютексом: сам по себе он не
// потокобезопасен.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand создаёт потокобезопасный RandSource с заданным зерном.
func NewLockedRand(seed int64) RandSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// Словарь кодирования псевдонимов. Размер — степень двойки, чтобы
// разложение числа по основанию давало ровные "цифры".
var pseudonymWords = [64]string{
	"amber", "anchor", "arrow", "aspen", "badger", "basil", "beacon", "birch",
	"bison", "bramble", "breeze", "canyon", "cedar", "cinder", "clover", "comet",
	"coral", "cricket", "dawn", "delta", "drift", "dune", "ember", "falcon",
	"fern", "flint", "fox", "garnet", "glacier", "grove", "harbor", "hawk",
	"hazel", "heron", "ivy", "jasper", "juniper", "kestrel", "lagoon", "larch",
	"lark", "lichen", "linden", "lotus", "maple", "meadow", "mesa", "mistral",
	"moss", "nettle", "nimbus", "otter", "pebble", "pine", "quartz", "raven",
	"reed", "ridge", "sable", "sparrow", "thistle", "tundra", "willow", "wren",
}

// Pseudonym выдаёт словесную метку для числа, равномерно выбранного из
// [1, userId]. Метка нарочно случайна на каждый запрос: по ней нельзя
// связать пользователя между ответами, но внутри одного ответа все
// наблюдения пользователя несут одну метку.
func Pseudonym(src RandSource, userID int64) string {
	if userID < 1 {
		userID = 1
	}
	return encodeWords(src.Int63n(userID) + 1)
}

func encodeWords(n int64) string {
	base := int64(len(pseudonymWords))
	var parts []string
	for n > 0 {
		parts = append(parts, pseudonymWords[n%base])
		n /= base
	}
	// от старшего разряда к младшему
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "-")
}
