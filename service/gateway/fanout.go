package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "usync_gateway_fanout_dropped_total",
	Help: "payloads dropped because a client send queue was full.",
})

type fanoutJob struct {
	conns   []*conn
	payload []byte
}

// Fanout 推送工作池。慢客户端不拖累别人：send 满了直接丢，
// 客户端靠 getUpdates 缺口重拉补齐。
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					select {
					case c.send <- job.payload:
					default:
						fanoutDropped.Inc()
					}
				}
			}
		}()
	}
	return f
}

// Broadcast 非阻塞入队；队列满时丢整批（推送是尽力而为的加速层）
func (f *Fanout) Broadcast(conns []*conn, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	select {
	case f.jobs <- fanoutJob{conns: conns, payload: payload}:
	default:
		fanoutDropped.Add(float64(len(conns)))
	}
}
