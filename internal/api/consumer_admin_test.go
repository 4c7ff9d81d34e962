package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	health    map[string]bool
	infos     map[string]broker.QueueInfo
	started   []string
	stopped   []string
	restarted []string
}

func (f *fakeSupervisor) check(queue string) error {
	if _, ok := f.health[queue]; !ok {
		return common.NotFoundErrf("no consumer for queue %q", queue)
	}
	return nil
}

func (f *fakeSupervisor) Start(queue string) error {
	if err := f.check(queue); err != nil {
		return err
	}
	f.started = append(f.started, queue)
	return nil
}

func (f *fakeSupervisor) Stop(queue string) error {
	if err := f.check(queue); err != nil {
		return err
	}
	f.stopped = append(f.stopped, queue)
	return nil
}

func (f *fakeSupervisor) Restart(queue string) error {
	if err := f.check(queue); err != nil {
		return err
	}
	f.restarted = append(f.restarted, queue)
	return nil
}

func (f *fakeSupervisor) Health() map[string]bool { return f.health }

func (f *fakeSupervisor) Stats() map[string]broker.QueueInfo { return f.infos }

func newAdminServer(sup *fakeSupervisor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := &WorkerRouter{Consumers: NewConsumerAdminHandler(sup)}
	return r.Engine()
}

func adminDo(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestConsumerAdmin_Lifecycle(t *testing.T) {
	sup := &fakeSupervisor{health: map[string]bool{broker.QueueProcessing: true}}
	engine := newAdminServer(sup)

	w := adminDo(engine, http.MethodPost, "/api/consumers/"+broker.QueueProcessing+"/stop")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{broker.QueueProcessing}, sup.stopped)

	w = adminDo(engine, http.MethodPost, "/api/consumers/"+broker.QueueProcessing+"/start")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{broker.QueueProcessing}, sup.started)

	w = adminDo(engine, http.MethodPost, "/api/consumers/"+broker.QueueProcessing+"/restart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{broker.QueueProcessing}, sup.restarted)
}

func TestConsumerAdmin_UnknownQueue(t *testing.T) {
	sup := &fakeSupervisor{health: map[string]bool{}}
	engine := newAdminServer(sup)

	w := adminDo(engine, http.MethodPost, "/api/consumers/no-such-queue/restart")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsumerAdmin_Health(t *testing.T) {
	tests := []struct {
		name     string
		health   map[string]bool
		wantCode int
	}{
		{
			name:     "all consumers running",
			health:   map[string]bool{broker.QueueProcessing: true, broker.QueueArchive: true},
			wantCode: http.StatusOK,
		},
		{
			name:     "one consumer dead",
			health:   map[string]bool{broker.QueueProcessing: true, broker.QueueArchive: false},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newAdminServer(&fakeSupervisor{health: tt.health})

			w := adminDo(engine, http.MethodGet, "/api/consumers/health")
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestConsumerAdmin_Stats(t *testing.T) {
	sup := &fakeSupervisor{
		health: map[string]bool{broker.QueueProcessing: true},
		infos: map[string]broker.QueueInfo{
			broker.QueueProcessing: {Name: broker.QueueProcessing, Messages: 7, Consumers: 1},
		},
	}
	engine := newAdminServer(sup)

	w := adminDo(engine, http.MethodGet, "/api/consumers/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages":7`)
}
