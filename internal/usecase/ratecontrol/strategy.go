package ratecontrol

import (
	"math/rand"
	"sync"
	"time"
)

// DelayRange задаёт диапазон базовой паузы между обращениями к платформе.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// DefaultDelay используется, если диапазон пауз не задан.
var DefaultDelay = DelayRange{Min: time.Second, Max: 3 * time.Second}

// Normalize возвращает корректный диапазон: отрицательные границы обнуляются,
// перепутанные меняются местами.
func (r DelayRange) Normalize() DelayRange {
	if r.Min < 0 {
		r.Min = 0
	}
	if r.Max < 0 {
		r.Max = 0
	}
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

// Mean возвращает среднее значение паузы.
func (r DelayRange) Mean() time.Duration {
	r = r.Normalize()
	return r.Min + (r.Max-r.Min)/2
}

// Strategy выбирает паузы и порядок обхода получателей.
type Strategy interface {
	NextDelay(r DelayRange) time.Duration
	// Order возвращает перестановку индексов 0..n-1.
	Order(n int) []int
}

// UniformStrategy выбирает паузу равномерно в диапазоне и перемешивает получателей.
type UniformStrategy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewUniformStrategy создаёт стратегию со случайным зерном.
func NewUniformStrategy(seed int64) *UniformStrategy {
	return &UniformStrategy{rnd: rand.New(rand.NewSource(seed))}
}

func (s *UniformStrategy) NextDelay(r DelayRange) time.Duration {
	r = r.Normalize()
	if r.Max == r.Min {
		return r.Min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.Min + time.Duration(s.rnd.Int63n(int64(r.Max-r.Min)+1))
}

func (s *UniformStrategy) Order(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Perm(n)
}

// FixedStrategy всегда берёт нижнюю границу диапазона и сохраняет исходный порядок.
type FixedStrategy struct{}

func (FixedStrategy) NextDelay(r DelayRange) time.Duration {
	return r.Normalize().Min
}

func (FixedStrategy) Order(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
