package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/lacylights-engine/internal/database/repositories"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/services/network"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

type universeSummary struct {
	Universe uint16 `json:"universe"`
	Active   int    `json:"activeChannels"`
}

type universeResponse struct {
	Universe uint16 `json:"universe"`
	Channels []int  `json:"channels"`
}

func (s *Server) handleListUniverses(w http.ResponseWriter, _ *http.Request) {
	frame := s.Pipeline.ResolvedMultiverse()
	out := make([]universeSummary, 0, frame.Len())
	for _, id := range frame.UniverseIDs() {
		u, _ := frame.Universe(id)
		active := 0
		for _, v := range u {
			if v != 0 {
				active++
			}
		}
		out = append(out, universeSummary{Universe: uint16(id), Active: active})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUniverse(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "universe must be a number")
		return
	}
	id, err := dmx.NewUniverseID(n)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	u, ok := s.Pipeline.ResolvedMultiverse().Universe(id)
	if !ok {
		writeNotFound(w, "universe not in the current frame")
		return
	}
	channels := make([]int, len(u))
	for i, v := range u {
		channels[i] = int(v)
	}
	writeJSON(w, http.StatusOK, universeResponse{Universe: uint16(id), Channels: channels})
}

type mappingResponse struct {
	Attribute string  `json:"attribute"`
	Channels  []int   `json:"channels"`
	Default   float64 `json:"default"`
}

type fixtureResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Mode         string            `json:"mode"`
	Universe     uint16            `json:"universe"`
	StartChannel int               `json:"startChannel"`
	Mappings     []mappingResponse `json:"mappings"`
}

func newFixtureResponse(fx *fixture.Fixture) fixtureResponse {
	resp := fixtureResponse{
		ID:           string(fx.ID),
		Name:         fx.Name,
		Mode:         fx.Mode,
		Universe:     uint16(fx.Universe),
		StartChannel: int(fx.StartChannel),
	}
	for _, m := range fx.Channels {
		mr := mappingResponse{Attribute: m.Attribute.String(), Default: m.Default.Float()}
		for _, off := range m.Offsets {
			mr.Channels = append(mr.Channels, int(fx.StartChannel)+off)
		}
		resp.Mappings = append(resp.Mappings, mr)
	}
	return resp
}

func (s *Server) handleListFixtures(w http.ResponseWriter, _ *http.Request) {
	fixtures := s.Scheduler.Patch().Fixtures()
	out := make([]fixtureResponse, 0, len(fixtures))
	for _, fx := range fixtures {
		out = append(out, newFixtureResponse(fx))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetFixture returns the stored patch row for one fixture.
func (s *Server) handleGetFixture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, err := s.PatchRepo.FindByID(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("fixture", id).Error("Failed to load fixture")
		writeInternalError(w, "failed to load fixture")
		return
	}
	if row == nil {
		writeNotFound(w, fmt.Sprintf("fixture %q is not patched", id))
		return
	}
	fx, err := repositories.ToFixture(*row)
	if err != nil {
		s.log.WithError(err).WithField("fixture", id).Error("Stored fixture is invalid")
		writeInternalError(w, "stored fixture is invalid")
		return
	}
	writeJSON(w, http.StatusOK, newFixtureResponse(fx))
}

type sourcesResponse struct {
	Scheduler output.Stats    `json:"scheduler"`
	Outputs   []output.Status `json:"outputs"`
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	txs := s.Scheduler.Transmitters()
	resp := sourcesResponse{
		Scheduler: s.Scheduler.Stats(),
		Outputs:   make([]output.Status, 0, len(txs)),
	}
	for _, tx := range txs {
		resp.Outputs = append(resp.Outputs, tx.Status())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInterfaces(w http.ResponseWriter, _ *http.Request) {
	ifaces, err := network.ListInterfaces()
	if err != nil {
		s.log.WithError(err).Error("Failed to list network interfaces")
		writeInternalError(w, "failed to list network interfaces")
		return
	}
	writeJSON(w, http.StatusOK, ifaces)
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	if s.Discovery == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeDisabled, "Art-Net discovery is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.Discovery.Nodes())
}

type pollResponse struct {
	Polled int      `json:"polled"`
	Errors []string `json:"errors,omitempty"`
}

// handlePollNodes sends one ArtPoll from every Art-Net output so nodes answer the
// discovery controller.
func (s *Server) handlePollNodes(w http.ResponseWriter, _ *http.Request) {
	var resp pollResponse
	for _, tx := range s.Scheduler.Transmitters() {
		sent, err := tx.Poll()
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", tx.Name(), err))
			continue
		}
		if sent {
			resp.Polled++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
