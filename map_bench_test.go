package slotmap

import (
	"testing"
)

func BenchmarkMapLoadSmall(b *testing.B) {
	benchmarkMapLoad(b, testDataSmall[:])
}

func BenchmarkMapLoad(b *testing.B) {
	benchmarkMapLoad(b, testData[:])
}

func BenchmarkMapLoadLarge(b *testing.B) {
	benchmarkMapLoad(b, testDataLarge[:])
}

func benchmarkMapLoad(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	for i := range data {
		_ = m.Store(data[i], i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Load(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapGet(b *testing.B) {
	benchmarkMapGet(b, testData[:])
}

func BenchmarkMapGetLarge(b *testing.B) {
	benchmarkMapGet(b, testDataLarge[:])
}

func benchmarkMapGet(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Get(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapUpdateInt(b *testing.B) {
	benchmarkMapUpdateInt(b, testDataInt[:])
}

func BenchmarkMapUpdateIntLarge(b *testing.B) {
	benchmarkMapUpdateInt(b, testDataIntLarge[:])
}

func benchmarkMapUpdateInt(b *testing.B, data []int) {
	b.ReportAllocs()
	var m Map[int, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = m.Update(data[i], func(v *int) { *v++ })
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapLockedCounter(b *testing.B) {
	b.ReportAllocs()
	var m Map[int, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			g, _ := m.Lock(0)
			*g.Value()++
			g.Unlock()
		}
	})
}

func BenchmarkMapStoreRemoveInt(b *testing.B) {
	b.ReportAllocs()
	var m Map[int, int]
	data := testDataIntSmall[:]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = m.Store(data[i], i)
			m.Remove(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}
