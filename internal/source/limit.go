package source

import "time"

// TimeLimit — кооперативная проверка бюджета чтения.
// Вызывается раз за итерацию с числом уже прочитанных строк;
// false означает "пора остановиться".
type TimeLimit func(rows int) bool

// Unlimited не ограничивает чтение.
func Unlimited(int) bool { return true }

// Deadline ограничивает чтение по времени, начиная с момента вызова.
func Deadline(d time.Duration) TimeLimit {
	if d <= 0 {
		return Unlimited
	}
	deadline := time.Now().Add(d)
	return func(int) bool {
		return time.Now().Before(deadline)
	}
}

// MaxRows останавливает чтение, когда набрано n строк.
func MaxRows(n int) TimeLimit {
	if n <= 0 {
		return Unlimited
	}
	return func(rows int) bool {
		return rows < n
	}
}

// All продолжает чтение, пока его разрешают все ограничения.
func All(limits ...TimeLimit) TimeLimit {
	return func(rows int) bool {
		for _, l := range limits {
			if l != nil && !l(rows) {
				return false
			}
		}
		return true
	}
}
