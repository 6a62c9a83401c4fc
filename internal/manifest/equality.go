package manifest

import "strings"

// Matches сравнивает две записи о файле: пути совпадают и,
// если обе стороны несут контрольную сумму, совпадают суммы,
// иначе совпадают метки времени.
func (f File) Matches(o File) bool {
	if Key(f.Name) != Key(o.Name) {
		return false
	}
	return sameContent(f.Checksum, o.Checksum, f.Timestamp, o.Timestamp)
}

// Matches сравнивает тикеты. Хост сравнивается без учёта регистра.
func (t Ticket) Matches(o Ticket) bool {
	if !strings.EqualFold(strings.TrimSpace(t.Host), strings.TrimSpace(o.Host)) {
		return false
	}
	return sameContent(t.Checksum, o.Checksum, t.Timestamp, o.Timestamp)
}

func sameContent(sumA, sumB, tsA, tsB string) bool {
	sumA, sumB = strings.TrimSpace(sumA), strings.TrimSpace(sumB)
	if sumA != "" && sumB != "" {
		return strings.EqualFold(sumA, sumB)
	}
	return sameTime(tsA, tsB)
}

// sameTime сравнивает метки с точностью до секунды. Неразбираемые
// метки сравниваются как строки; пустая метка ни с чем не совпадает.
func sameTime(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	ta, errA := ParseTime(a)
	tb, errB := ParseTime(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ta.Unix() == tb.Unix()
}
