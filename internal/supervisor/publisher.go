package supervisor

import "sync"

// Publisher 单写者状态容器：仅在状态实际变化时向订阅者投递一次事件。
// 投递相对触发方异步（缓冲通道），订阅者永远可以通过 Current 读到最新值。
// Publisher is a single-writer status container. Subscribers get at most one
// event per actual transition, delivered asynchronously through buffered
// channels; Current always returns the latest value.
type Publisher struct {
	mu      sync.Mutex
	current Status
	subs    map[int]chan Status
	nextID  int
}

func NewPublisher() *Publisher {
	return &Publisher{
		current: Inactive(),
		subs:    make(map[int]chan Status),
	}
}

// Current 返回最新发布的状态 / Current returns the latest published status
func (p *Publisher) Current() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Set 发布新状态；与上一次相同则不产生事件
// Set publishes a status; identical values emit no event
func (p *Publisher) Set(next Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if next == p.current {
		return
	}
	p.current = next

	for _, ch := range p.subs {
		// 订阅者跟不上时丢弃事件，Current 仍然是准确的
		// Drop the event if the subscriber lags; Current stays accurate
		select {
		case ch <- next:
		default:
		}
	}
}

// Subscribe 返回事件通道和取消函数 / Subscribe returns the event channel and a cancel func
func (p *Publisher) Subscribe() (<-chan Status, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Status, 8)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
