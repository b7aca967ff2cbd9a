package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain 读取缓冲区内已有的全部事件
func drain[T any](sub *Subscription[T]) []T {
	var out []T
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	b := New[int]()
	assert.NotPanics(t, func() { b.Publish(1) })
	assert.Equal(t, 0, b.Len())
}

func TestBroker_FanOutAndLateSubscriber(t *testing.T) {
	b := New[string]()
	s1 := b.Subscribe(nil)
	s2 := b.Subscribe(nil)

	b.Publish("e")

	s3 := b.Subscribe(nil)

	assert.Equal(t, []string{"e"}, drain(s1))
	assert.Equal(t, []string{"e"}, drain(s2))
	assert.Empty(t, drain(s3))
}

func TestBroker_PreservesPublishOrder(t *testing.T) {
	b := New[int](WithBufferSize(100))
	sub := b.Subscribe(nil)

	for i := 0; i < 50; i++ {
		b.Publish(i)
	}

	got := drain(sub)
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestBroker_MatchFilter(t *testing.T) {
	b := New[string]()
	even := b.Subscribe(func(s string) bool { return s == "u1" })
	all := b.Subscribe(nil)

	b.Publish("u1")
	b.Publish("u2")
	b.Publish("u1")

	assert.Equal(t, []string{"u1", "u1"}, drain(even))
	assert.Equal(t, []string{"u1", "u2", "u1"}, drain(all))
}

func TestBroker_DropOldest(t *testing.T) {
	b := New[int](WithBufferSize(3), WithOverflowPolicy(DropOldest))
	sub := b.Subscribe(nil)

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	assert.Equal(t, []int{3, 4, 5}, drain(sub))
	assert.EqualValues(t, 2, sub.Dropped())
	assert.Equal(t, 1, b.Len())
}

func TestBroker_DisconnectOnOverflow(t *testing.T) {
	b := New[int](WithBufferSize(2), WithOverflowPolicy(Disconnect))
	slow := b.Subscribe(nil)
	other := b.Subscribe(func(v int) bool { return v == 1 })

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	// 缓冲内的事件仍可读出，之后通道关闭
	got := []int{}
	for v := range slow.Events() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []int{1}, drain(other))

	assert.NotPanics(t, slow.Close)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe(nil)

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	assert.NotPanics(t, func() { b.Publish(1) })
}

func TestBroker_Close(t *testing.T) {
	b := New[int]()
	s1 := b.Subscribe(nil)
	s2 := b.Subscribe(nil)

	b.Close()
	b.Close()

	_, ok := <-s1.Events()
	assert.False(t, ok)
	_, ok = <-s2.Events()
	assert.False(t, ok)

	late := b.Subscribe(nil)
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.NotPanics(t, late.Close)
	assert.NotPanics(t, func() { b.Publish(1) })
}

func TestBroker_ConcurrentPublishSubscribe(t *testing.T) {
	b := New[int](WithBufferSize(8))
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(j)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := b.Subscribe(nil)
				drain(sub)
				sub.Close()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publish/subscribe deadlocked")
	}
	assert.Equal(t, 0, b.Len())
}

func TestParseOverflowPolicy(t *testing.T) {
	assert.Equal(t, Disconnect, ParseOverflowPolicy("disconnect"))
	assert.Equal(t, DropOldest, ParseOverflowPolicy("drop_oldest"))
	assert.Equal(t, DropOldest, ParseOverflowPolicy(""))
	assert.Equal(t, "disconnect", Disconnect.String())
}
