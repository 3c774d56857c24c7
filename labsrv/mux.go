package labsrv

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/labalyzer/labctl/generichttp"
	"github.com/labalyzer/labctl/generichttp/sweep"
	"github.com/labalyzer/labctl/generichttp/timeframe"
	"github.com/labalyzer/labctl/server/middleware/locker"
)

type node struct {
	endpoint string
	httper   generichttp.HTTPer
	lock     *locker.Locker
}

// BuildMux serves the rig.  Every component is mounted under its own
// endpoint with its own lock, and /endpoints lists the routes of each.
// The rig's play and stop routes also honor the analog and digital locks.
func BuildMux(r *Rig) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	analogLock := locker.New("/channels")
	digitalLock := locker.New("/progress", "/checksum")
	nodes := []node{
		{endpoint: "analog", httper: timeframe.NewHTTPAnalog(r.Analog), lock: analogLock},
		{endpoint: "digital", httper: timeframe.NewHTTPDigital(r.Digital), lock: digitalLock},
		{endpoint: "sweep", httper: sweep.NewHTTPSweep(r.Sweep), lock: locker.New()},
		{endpoint: "rig", httper: NewHTTPRig(r, analogLock, digitalLock), lock: locker.New("/timeframe-length")},
	}
	for _, n := range nodes {
		httper := n.httper
		hndlS := generichttp.SubMuxSanitize(n.endpoint)

		lock := n.lock
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		sub := chi.NewRouter()
		sub.Use(lock.Check)
		httper.RT().Bind(sub)
		root.Mount(hndlS, sub)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
