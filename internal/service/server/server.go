package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcipher/internal/model"
	"chatcipher/internal/utils/log"
)

type (
	// BundleStore is the persistence surface of the bundle service.
	BundleStore interface {
		Get(ctx context.Context, userID string) (*model.BundleCollection, error)
		Put(ctx context.Context, col *model.BundleCollection) error
	}

	// HttpServer is the authoritative bundle service: clients publish
	// their device bundles here and resolve other users' collections
	// from here. Subscribers get a websocket event whenever a
	// collection changes.
	HttpServer struct {
		addr    string
		bundles BundleStore

		mu   sync.Mutex
		subs map[string]*websocket.Conn
	}

	collectionDTO struct {
		UserID string `json:"user_id"`
		Raw    []byte `json:"raw"`
	}

	bundleEvent struct {
		UserID string `json:"user_id"`
	}
)

func NewHttpServer(addr string, bundles BundleStore) *HttpServer {
	return &HttpServer{
		addr:    addr,
		bundles: bundles,
		subs:    make(map[string]*websocket.Conn),
	}
}

func (s *HttpServer) Run() error {
	r := mux.NewRouter()

	r.HandleFunc("/bundles/{userID}", s.GetBundles()).Methods(http.MethodGet)
	r.HandleFunc("/bundles/{userID}", s.PutBundles()).Methods(http.MethodPut)
	r.HandleFunc("/subscribe", s.HandleSubscribe()).Methods(http.MethodGet)

	return http.ListenAndServe(s.addr, r)
}

func (s *HttpServer) GetBundles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		userID := vars["userID"]

		col, err := s.bundles.Get(ctx, userID)
		if err != nil {
			log.Error("get bundles failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "get bundles failed", http.StatusInternalServerError)
			return
		}

		if col == nil {
			http.Error(w, "no bundles published", http.StatusNotFound)
			return
		}

		raw, err := col.Encode()
		if err != nil {
			log.Error("get bundles failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "get bundles failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(collectionDTO{UserID: userID, Raw: raw})
	}
}

func (s *HttpServer) PutBundles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		userID := vars["userID"]

		var dto collectionDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		col, err := model.DecodeBundleCollection(dto.Raw)
		if err != nil {
			http.Error(w, "invalid bundle collection", http.StatusBadRequest)
			return
		}
		if col.UserID != userID {
			http.Error(w, "user id mismatch", http.StatusBadRequest)
			return
		}

		if err := s.bundles.Put(ctx, col); err != nil {
			log.Error("put bundles failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "put bundles failed", http.StatusInternalServerError)
			return
		}

		s.broadcast(bundleEvent{UserID: userID})
		w.WriteHeader(http.StatusOK)
	}
}

func (s *HttpServer) HandleSubscribe() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		id := uuid.NewString()
		s.mu.Lock()
		s.subs[id] = conn
		s.mu.Unlock()

		go s.drainSubscriber(id, conn)
	}
}

// drainSubscriber keeps reading until the peer goes away, then removes
// the subscription.
func (s *HttpServer) drainSubscriber(id string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Debug("subscriber web socket closed", zap.Error(err))
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (s *HttpServer) broadcast(ev bundleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conn := range s.subs {
		if err := conn.WriteJSON(&ev); err != nil {
			log.Debug("subscriber write failed", zap.String("sub_id", id), zap.Error(err))
		}
	}
}
