//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/bleflow/internal/platform"
)

// MockCentral is a testify mock of platform.Central.
type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) Scan(ctx context.Context, allowDuplicates bool, h func(platform.Advertisement)) error {
	args := m.Called(ctx, allowDuplicates, h)
	return args.Error(0)
}

func (m *MockCentral) Dial(ctx context.Context, address string) (platform.Client, error) {
	args := m.Called(ctx, address)
	c, _ := args.Get(0).(platform.Client)
	return c, args.Error(1)
}

func (m *MockCentral) Stop() error {
	return m.Called().Error(0)
}

// MockClient is a testify mock of platform.Client.
//
// Disconnected is backed by a channel the test closes with DropLink; the
// notification handlers passed to Subscribe are kept so tests can Notify.
type MockClient struct {
	mock.Mock

	mu           sync.Mutex
	disconnected chan struct{}
	dropped      bool
	handlers     map[*ble.Characteristic]func([]byte)
}

// NewMockClient creates a client whose link is up.
func NewMockClient() *MockClient {
	return &MockClient{
		disconnected: make(chan struct{}),
		handlers:     make(map[*ble.Characteristic]func([]byte)),
	}
}

func (m *MockClient) Address() string {
	return m.Called().String(0)
}

func (m *MockClient) Name() string {
	return m.Called().String(0)
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	ss, _ := args.Get(0).([]*ble.Service)
	return ss, args.Error(1)
}

func (m *MockClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	args := m.Called(filter, s)
	ss, _ := args.Get(0).([]*ble.Service)
	return ss, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	cs, _ := args.Get(0).([]*ble.Characteristic)
	return cs, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	ds, _ := args.Get(0).([]*ble.Descriptor)
	return ds, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *MockClient) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, indication bool, h func(data []byte)) error {
	err := m.Called(c, indication, h).Error(0)
	if err == nil {
		m.mu.Lock()
		m.handlers[c] = h
		m.mu.Unlock()
	}
	return err
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, indication bool) error {
	err := m.Called(c, indication).Error(0)
	if err == nil {
		m.mu.Lock()
		delete(m.handlers, c)
		m.mu.Unlock()
	}
	return err
}

func (m *MockClient) ClearSubscriptions() error {
	err := m.Called().Error(0)
	if err == nil {
		m.mu.Lock()
		m.handlers = make(map[*ble.Characteristic]func([]byte))
		m.mu.Unlock()
	}
	return err
}

func (m *MockClient) CancelConnection() error {
	err := m.Called().Error(0)
	m.DropLink()
	return err
}

func (m *MockClient) Disconnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// Relink brings a dropped link back up, as a fresh dial would.
func (m *MockClient) Relink() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped {
		m.dropped = false
		m.disconnected = make(chan struct{})
		m.handlers = make(map[*ble.Characteristic]func([]byte))
	}
}

// DropLink simulates the peripheral going away.
func (m *MockClient) DropLink() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dropped {
		m.dropped = true
		close(m.disconnected)
	}
}

// Notify delivers data to the handler subscribed on c.
// It reports false when nothing is subscribed.
func (m *MockClient) Notify(c *ble.Characteristic, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[c]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// MockServer is a testify mock of platform.Server.
type MockServer struct {
	mock.Mock
}

func (m *MockServer) AddService(s *ble.Service) error {
	return m.Called(s).Error(0)
}

func (m *MockServer) RemoveAllServices() error {
	return m.Called().Error(0)
}

func (m *MockServer) SetServices(ss []*ble.Service) error {
	return m.Called(ss).Error(0)
}

func (m *MockServer) Advertise(ctx context.Context, name string, services []ble.UUID) error {
	return m.Called(ctx, name, services).Error(0)
}

func (m *MockServer) Stop() error {
	return m.Called().Error(0)
}

// NewMockServer creates a server mock accepting every call. Advertise blocks until its context is done.
func NewMockServer() *MockServer {
	m := &MockServer{}
	m.On("AddService", mock.Anything).Return(nil).Maybe()
	m.On("RemoveAllServices").Return(nil).Maybe()
	m.On("SetServices", mock.Anything).Return(nil).Maybe()
	m.On("Stop").Return(nil).Maybe()
	m.On("Advertise", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil).Maybe()
	return m
}
