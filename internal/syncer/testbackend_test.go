package syncer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// testBackend 是一个装在内存里的后端，行为对齐真实服务：
// 预订带幂等保护，重放同一个幂等令牌不会产生第二条记录
type testBackend struct {
	mu sync.Mutex

	library  *domain.Library
	seats    map[int]*domain.Seat
	seenOps  map[string]*domain.Student
	requests []string // "METHOD PATH"，用于断言重放顺序

	nextStudentID int64
	unauthorized  bool
	rejectAll     bool
	failMutations bool // 变更请求直接掐断连接，读取照常

	server *httptest.Server
}

func newTestBackend(shiftNames []string, seatCount int) *testBackend {
	b := &testBackend{
		library:       &domain.Library{ID: 1, ManagerID: 1, Name: "自习室", Capacity: seatCount},
		seats:         make(map[int]*domain.Seat),
		seenOps:       make(map[string]*domain.Student),
		nextStudentID: 100,
	}
	for n := 1; n <= seatCount; n++ {
		seat := &domain.Seat{LibraryID: 1, SeatNumber: n}
		for _, name := range shiftNames {
			seat.Shifts = append(seat.Shifts, domain.ShiftSlot{Name: name, StartTime: "08:00", EndTime: "12:00"})
		}
		b.seats[n] = seat
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /library/me", b.withAuth(b.handleLibrary))
	mux.HandleFunc("GET /seats/{libraryId}/", b.withAuth(b.handleSeats))
	mux.HandleFunc("POST /seats/{libraryId}/{seatNumber}/book", b.withAuth(b.handleBook))
	mux.HandleFunc("PUT /seats/{libraryId}/{seatNumber}/book/{shiftName}", b.withAuth(b.handleUpdate))
	mux.HandleFunc("DELETE /seats/{libraryId}/{seatNumber}/book/{shiftName}", b.withAuth(b.handleDelete))

	b.server = httptest.NewServer(mux)
	return b
}

func (b *testBackend) Close() { b.server.Close() }

func (b *testBackend) URL() string { return b.server.URL }

func (b *testBackend) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Method+" "+r.URL.Path)
		unauthorized := b.unauthorized
		rejectAll := b.rejectAll
		failMutations := b.failMutations
		b.mu.Unlock()

		if failMutations && r.Method != http.MethodGet {
			panic(http.ErrAbortHandler)
		}
		if unauthorized {
			writeBody(w, http.StatusUnauthorized, map[string]string{"message": "无效的令牌"})
			return
		}
		if rejectAll {
			writeBody(w, http.StatusBadRequest, map[string]string{"message": "请求被拒绝"})
			return
		}
		next(w, r)
	}
}

func (b *testBackend) handleLibrary(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCount()
	writeBody(w, http.StatusOK, map[string]any{"library": b.library})
}

func (b *testBackend) handleSeats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCount()

	seats := make([]*domain.Seat, 0, len(b.seats))
	for n := 1; n <= len(b.seats); n++ {
		// 返回时剥离幂等令牌，和真实后端一致
		seat := b.seats[n].Clone()
		for i := range seat.Shifts {
			if st, ok := seat.Shifts[i].Occupant.Student(); ok {
				seat.Shifts[i].Occupant = domain.OccupantOf(st.Public())
			}
		}
		seats = append(seats, seat)
	}
	writeBody(w, http.StatusOK, map[string]any{"library": b.library, "seats": seats})
}

func (b *testBackend) handleBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		DateOfJoin  string `json:"dateofJoin"`
		Contact     string `json:"contact"`
		Email       string `json:"email"`
		ShiftName   string `json:"shiftName"`
		OperationID string `json:"operationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBody(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seatNumber, _ := strconv.Atoi(r.PathValue("seatNumber"))
	seat := b.seats[seatNumber]
	if seat == nil {
		writeBody(w, http.StatusNotFound, map[string]string{"message": "座位不存在"})
		return
	}

	// 重放的请求返回已有的预订结果，响应形态和首次预订一致
	if existing := b.seenOps[req.OperationID]; req.OperationID != "" && existing != nil {
		writeBody(w, http.StatusOK, map[string]any{"message": "该操作此前已处理", "studentId": existing.ID, "student": existing.Public()})
		return
	}

	idx := seat.FindShift(req.ShiftName)
	if idx < 0 {
		writeBody(w, http.StatusBadRequest, map[string]string{"message": "座位上不存在这个班次"})
		return
	}
	if seat.Shifts[idx].Occupant.IsBooked() {
		writeBody(w, http.StatusBadRequest, map[string]string{"message": "该班次已被预订"})
		return
	}

	b.nextStudentID++
	student := &domain.Student{
		ID:         b.nextStudentID,
		LibraryID:  1,
		Name:       req.Name,
		DateOfJoin: req.DateOfJoin,
		Contact:    req.Contact,
		Email:      req.Email,
		SeatNumber: seatNumber,
		ShiftName:  req.ShiftName,
	}
	seat.Shifts[idx].Occupant = domain.OccupantOf(student)
	if req.OperationID != "" {
		b.seenOps[req.OperationID] = student
	}

	writeBody(w, http.StatusOK, map[string]any{"message": "预订成功", "studentId": student.ID, "student": student})
}

func (b *testBackend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		DateOfJoin string `json:"dateofJoin"`
		Contact    string `json:"contact"`
		Email      string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBody(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seatNumber, _ := strconv.Atoi(r.PathValue("seatNumber"))
	seat := b.seats[seatNumber]
	if seat == nil {
		writeBody(w, http.StatusNotFound, map[string]string{"message": "座位不存在"})
		return
	}
	idx := seat.FindShift(r.PathValue("shiftName"))
	if idx < 0 {
		writeBody(w, http.StatusNotFound, map[string]string{"message": "座位上不存在这个班次"})
		return
	}
	current, ok := seat.Shifts[idx].Occupant.Student()
	if !ok {
		writeBody(w, http.StatusBadRequest, map[string]string{"message": "该班次尚未被预订"})
		return
	}

	current.Name = req.Name
	current.DateOfJoin = req.DateOfJoin
	current.Contact = req.Contact
	current.Email = req.Email

	writeBody(w, http.StatusOK, map[string]any{"message": "预订人信息已更新", "student": current})
}

func (b *testBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seatNumber, _ := strconv.Atoi(r.PathValue("seatNumber"))
	seat := b.seats[seatNumber]
	if seat == nil {
		writeBody(w, http.StatusNotFound, map[string]string{"message": "座位不存在"})
		return
	}
	idx := seat.FindShift(r.PathValue("shiftName"))
	if idx < 0 {
		writeBody(w, http.StatusNotFound, map[string]string{"message": "座位上不存在这个班次"})
		return
	}

	seat.Shifts[idx].Occupant = domain.NoOccupant()
	writeBody(w, http.StatusOK, map[string]string{"message": "预订已删除"})
}

func (b *testBackend) refreshCount() {
	seats := make([]*domain.Seat, 0, len(b.seats))
	for _, seat := range b.seats {
		seats = append(seats, seat)
	}
	b.library.BookedSeatsCount = domain.CountFullyBookedSeats(seats)
}

func (b *testBackend) occupant(seatNumber int, shiftName string) (*domain.Student, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seat := b.seats[seatNumber]
	if seat == nil {
		return nil, false
	}
	idx := seat.FindShift(shiftName)
	if idx < 0 {
		return nil, false
	}
	return seat.Shifts[idx].Occupant.Student()
}

func (b *testBackend) requestLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *testBackend) setUnauthorized(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unauthorized = v
}

func (b *testBackend) setRejectAll(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = v
}

func (b *testBackend) setFailMutations(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failMutations = v
}

func writeBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bookPayload(name, shiftName, operationID string) []byte {
	data, _ := json.Marshal(map[string]string{
		"name":        name,
		"dateofJoin":  "2026-03-01",
		"contact":     "13800000000",
		"shiftName":   shiftName,
		"operationId": operationID,
	})
	return data
}

func bookPath(seatNumber int) string {
	return fmt.Sprintf("/seats/1/%d/book", seatNumber)
}
