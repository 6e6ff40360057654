package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

type pendingPing struct {
	nodeID   *NodeID
	address  *net.UDPAddr
	sentTime time.Time
}

type pendingFindNode struct {
	address  *net.UDPAddr
	sentTime time.Time
}

type validatedEndpoint struct {
	nodeID      *NodeID
	validatedAt time.Time
}

// Server is a UDP discovery node: it answers PING/FINDNODE, tracks
// liveness of nodes it has pinged, and feeds a RoutingTable from
// validated responses only. Grounded on
// original_source/daemon/discovery/server.rs's DiscoveryServer, with
// its tokio tasks replaced by goroutines and its RwLock<HashMap<...>>
// fields replaced by a single mutex guarding the equivalent Go maps
// (none of these maps sees enough concurrent traffic in this daemon to
// need finer-grained locking than the teacher's own store types use).
type Server struct {
	conn         *net.UDPConn
	identity     *Identity
	routingTable *RoutingTable
	config       Config

	seqCounter int64
	running    int32
	stopCh     chan struct{}
	wg         sync.WaitGroup
	handlerSem chan struct{}

	mu                 sync.Mutex
	pendingPings       map[externalapi.DomainHash]pendingPing
	pendingFindNodes   map[externalapi.DomainHash]pendingFindNode
	processedPongs     map[externalapi.DomainHash]time.Time
	validatedEndpoints map[string]validatedEndpoint
	externalAddress    *net.UDPAddr
}

// NewServer binds a UDP socket at config.BindAddress and constructs a
// Server around identity.
func NewServer(config Config, identity *Identity) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", config.BindAddress)
	if err != nil {
		return nil, errors.Wrapf(ErrBindFailed, "resolving %s: %s", config.BindAddress, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrBindFailed, "%s: %s", config.BindAddress, err)
	}

	log.Infof("Discovery server listening on %s (node_id: %s)", conn.LocalAddr(), hex.EncodeToString(identity.NodeID().ByteSlice()))

	return &Server{
		conn:               conn,
		identity:           identity,
		routingTable:       NewRoutingTable(identity.NodeID(), config.BucketSize),
		config:             config,
		stopCh:             make(chan struct{}),
		handlerSem:         make(chan struct{}, maxConcurrentHandlers),
		pendingPings:       make(map[externalapi.DomainHash]pendingPing),
		pendingFindNodes:   make(map[externalapi.DomainHash]pendingFindNode),
		processedPongs:     make(map[externalapi.DomainHash]time.Time),
		validatedEndpoints: make(map[string]validatedEndpoint),
	}, nil
}

// Identity returns the server's discovery identity.
func (s *Server) Identity() *Identity { return s.identity }

// RoutingTable returns the server's routing table.
func (s *Server) RoutingTable() *RoutingTable { return s.routingTable }

// LocalAddr returns the address the server's UDP socket is bound to.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// SetExternalAddress records addr as this node's externally reachable
// address, advertised in NodeInfo instead of the bind address. This is
// never inferred automatically from a PONG sender's observed address:
// doing so would let any peer we ping overwrite our advertised address
// with its own, the exact bug original_source's external-address
// handling was rewritten to remove. It must be called explicitly;
// cmd/tosd does not call it, so a node it starts advertises its bind
// address.
func (s *Server) SetExternalAddress(addr *net.UDPAddr) {
	s.mu.Lock()
	s.externalAddress = addr
	s.mu.Unlock()
}

// Start spawns the receive and maintenance loops and dials every
// configured bootstrap node.
func (s *Server) Start() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		log.Warnf("Discovery server already running")
		return
	}

	if s.config.IsBootnode {
		log.Infof("Running in discovery-only (bootnode) mode")
	}

	s.connectBootstrapNodes()

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.receiveLoop() }()
	go func() { defer s.wg.Done(); s.maintenanceLoop() }()
}

// Stop halts the receive/maintenance loops and closes the socket.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.stopCh)
	s.conn.Close()
	s.wg.Wait()
}

func (s *Server) connectBootstrapNodes() {
	for _, url := range s.config.BootstrapNodes {
		nodeID, addr, err := parseNodeURL(url)
		if err != nil {
			log.Errorf("Invalid bootstrap node URL %q: %s", url, err)
			continue
		}
		log.Infof("Connecting to bootstrap node: %s", url)
		if err := s.PingNode(nodeID, addr); err != nil {
			log.Warnf("Failed to ping bootstrap node %s: %s", url, err)
		}
	}
}

// parseNodeURL parses "<hex node id>@host:port".
func parseNodeURL(url string) (*NodeID, *net.UDPAddr, error) {
	parts := strings.SplitN(url, "@", 2)
	if len(parts) != 2 {
		return nil, nil, errors.New("node url must be \"<node id>@host:port\"")
	}
	idBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(idBytes) != externalapi.DomainHashSize {
		return nil, nil, errors.New("invalid node id")
	}
	var nodeID NodeID
	copy(nodeID[:], idBytes)

	addr, err := net.ResolveUDPAddr("udp", parts[1])
	if err != nil {
		return nil, nil, err
	}
	return &nodeID, addr, nil
}

func (s *Server) receiveLoop() {
	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.Errorf("Error receiving packet: %s", err)
				continue
			}
		}

		select {
		case s.handlerSem <- struct{}{}:
		default:
			log.Debugf("Dropping packet from %s (at handler capacity %d)", from, maxConcurrentHandlers)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.wg.Add(1)
		go func(data []byte, from *net.UDPAddr) {
			defer s.wg.Done()
			defer func() { <-s.handlerSem }()
			if err := s.handlePacket(data, from); err != nil {
				log.Debugf("Error handling packet from %s: %s", from, err)
			}
		}(data, from)
	}
}

func (s *Server) maintenanceLoop() {
	refreshTicker := time.NewTicker(refreshInterval)
	bootstrapTicker := time.NewTicker(bootstrapInterval)
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer refreshTicker.Stop()
	defer bootstrapTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-refreshTicker.C:
			s.refreshRandomBucket()
		case <-bootstrapTicker.C:
			s.connectBootstrapNodes()
		case <-cleanupTicker.C:
			s.cleanupPending()
		}
	}
}

func (s *Server) handlePacket(data []byte, from *net.UDPAddr) error {
	packet, err := decodePacket(data)
	if err != nil {
		return err
	}

	switch packet.kind {
	case kindPing:
		msg, err := packet.decodePing()
		if err != nil {
			return err
		}
		if !isExpirationValid(msg.Expiration) {
			return ErrMessageExpired
		}
		if !packet.verify(msg.Source.PublicKey) {
			return ErrInvalidSignature
		}
		return s.handlePing(packet, msg, from)
	case kindPong:
		msg, err := packet.decodePong()
		if err != nil {
			return err
		}
		if !isExpirationValid(msg.Expiration) {
			return ErrMessageExpired
		}
		if !packet.verify(msg.Source.PublicKey) {
			return ErrInvalidSignature
		}
		return s.handlePong(msg, from)
	case kindFindNode:
		msg, err := packet.decodeFindNode()
		if err != nil {
			return err
		}
		if !isExpirationValid(msg.Expiration) {
			return ErrMessageExpired
		}
		if !packet.verify(msg.Source.PublicKey) {
			return ErrInvalidSignature
		}
		return s.handleFindNode(msg, from)
	case kindNeighbors:
		msg, err := packet.decodeNeighbors()
		if err != nil {
			return err
		}
		if !isExpirationValid(msg.Expiration) {
			return ErrMessageExpired
		}
		if !packet.verify(msg.Source.PublicKey) {
			return ErrInvalidSignature
		}
		return s.handleNeighbors(msg, from)
	default:
		return errors.Wrapf(ErrUnknownMessageKind, "%q", packet.kind)
	}
}

func (s *Server) localNodeInfo() NodeInfo {
	s.mu.Lock()
	addr := s.externalAddress
	s.mu.Unlock()
	if addr == nil {
		if local, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
			addr = local
		}
	}
	return NodeInfo{NodeID: s.identity.NodeID(), Address: addr.String(), PublicKey: s.identity.PublicKey()}
}

// handlePing replies with a Pong carrying our address. A PING alone
// never touches the routing table: the UDP source can be spoofed, and
// only a PONG that answers our own PING proves the sender actually
// controls that address.
func (s *Server) handlePing(packet *decodedPacket, ping *Ping, from *net.UDPAddr) error {
	if !ping.Source.VerifyNodeID() {
		return errors.Wrapf(ErrInvalidNodeID, "ping from %s", from)
	}

	pong := &Pong{Source: s.localNodeInfo(), PingHash: packet.hash(), Expiration: newExpiration()}
	return s.sendMessage(kindPong, pong, from)
}

func (s *Server) handlePong(pong *Pong, from *net.UDPAddr) error {
	if !pong.Source.VerifyNodeID() {
		return errors.Wrapf(ErrInvalidNodeID, "pong from %s", from)
	}

	s.mu.Lock()
	if _, seen := s.processedPongs[*pong.PingHash]; seen {
		s.mu.Unlock()
		log.Warnf("Duplicate PONG from %s (possible replay)", from)
		return nil
	}
	if len(s.processedPongs) >= maxProcessedPongs {
		cutoff := time.Now().Add(-responseTimeout)
		for hash, seenAt := range s.processedPongs {
			if seenAt.Before(cutoff) {
				delete(s.processedPongs, hash)
			}
		}
	}
	if len(s.processedPongs) < maxProcessedPongs {
		s.processedPongs[*pong.PingHash] = time.Now()
	}

	pending, hadPending := s.pendingPings[*pong.PingHash]
	delete(s.pendingPings, *pong.PingHash)
	s.mu.Unlock()

	validResponse := hadPending && pending.nodeID.Equal(pong.Source.NodeID) && pending.address.String() == from.String()
	if !validResponse {
		log.Debugf("Ignoring unsolicited or mismatched PONG from %s", from)
		return nil
	}

	info := NodeInfo{NodeID: pong.Source.NodeID, Address: from.String(), PublicKey: pong.Source.PublicKey}
	s.routingTable.Insert(info)

	s.mu.Lock()
	if len(s.validatedEndpoints) >= maxValidatedEndpoints {
		cutoff := time.Now().Add(-endpointValidationDuration)
		for addr, v := range s.validatedEndpoints {
			if v.validatedAt.Before(cutoff) {
				delete(s.validatedEndpoints, addr)
			}
		}
	}
	if len(s.validatedEndpoints) < maxValidatedEndpoints {
		s.validatedEndpoints[from.String()] = validatedEndpoint{nodeID: pong.Source.NodeID, validatedAt: time.Now()}
	}
	s.mu.Unlock()

	s.routingTable.Touch(pong.Source.NodeID)
	return nil
}

// handleFindNode answers with our closest known nodes to the target,
// but only once from has completed a PING/PONG round with us: a
// NEIGHBORS response can be much larger than the FINDNODE request that
// triggers it, so answering unvalidated senders would make this an
// amplification reflector.
func (s *Server) handleFindNode(findNode *FindNode, from *net.UDPAddr) error {
	if !findNode.Source.VerifyNodeID() {
		return errors.Wrapf(ErrInvalidNodeID, "findnode from %s", from)
	}

	s.mu.Lock()
	endpoint, ok := s.validatedEndpoints[from.String()]
	s.mu.Unlock()
	validated := ok && endpoint.nodeID.Equal(findNode.Source.NodeID) && time.Since(endpoint.validatedAt) < endpointValidationDuration
	if !validated {
		return errors.Wrapf(ErrEndpointNotValidated, "%s", from)
	}

	s.routingTable.Insert(NodeInfo{NodeID: findNode.Source.NodeID, Address: from.String(), PublicKey: findNode.Source.PublicKey})

	closest := s.routingTable.Closest(findNode.Target, maxNeighbors)
	neighbors := &Neighbors{Source: s.localNodeInfo(), Nodes: closest, Expiration: newExpiration()}
	return s.sendMessage(kindNeighbors, neighbors, from)
}

// handleNeighbors only accepts a response matching an outstanding
// FINDNODE we sent to exactly this address, then pings each candidate
// to prove liveness before ever inserting it: accepting NEIGHBORS
// contents on faith would let one malicious peer poison our routing
// table with addresses of its choosing.
func (s *Server) handleNeighbors(neighbors *Neighbors, from *net.UDPAddr) error {
	if !neighbors.Source.VerifyNodeID() {
		return errors.Wrapf(ErrInvalidNodeID, "neighbors from %s", from)
	}

	s.mu.Lock()
	pending, ok := s.pendingFindNodes[*neighbors.Source.NodeID]
	delete(s.pendingFindNodes, *neighbors.Source.NodeID)
	s.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnsolicitedResponse, "neighbors from %s: no pending findnode", from)
	}
	if pending.address.String() != from.String() {
		return errors.Wrapf(ErrUnsolicitedResponse, "neighbors address mismatch: expected %s, got %s", pending.address, from)
	}

	s.routingTable.Insert(NodeInfo{NodeID: neighbors.Source.NodeID, Address: from.String(), PublicKey: neighbors.Source.PublicKey})

	for _, node := range neighbors.Nodes {
		if node.NodeID.Equal(s.identity.NodeID()) {
			continue
		}
		if !node.VerifyNodeID() {
			log.Warnf("NEIGHBORS contains node with invalid node_id: %s", node.NodeID)
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", node.Address)
		if err != nil || !isValidDiscoveryAddress(addr) {
			log.Debugf("NEIGHBORS contains node with invalid address %s, skipping", node.Address)
			continue
		}
		if s.routingTable.Contains(node.NodeID) {
			continue
		}
		if err := s.PingNode(node.NodeID, addr); err != nil {
			log.Debugf("Failed to ping node from NEIGHBORS %s: %s", node.Address, err)
		}
	}
	return nil
}

func (s *Server) sendMessage(kind messageKind, v interface{}, to *net.UDPAddr) error {
	data, err := signPacket(s.identity, kind, v)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, to)
	return err
}

// PingNode sends a PING to address and tracks it as pending so a
// matching PONG will be accepted.
func (s *Server) PingNode(nodeID *NodeID, address *net.UDPAddr) error {
	seq := atomic.AddInt64(&s.seqCounter, 1)
	ping := &Ping{Source: s.localNodeInfo(), Sequence: uint64(seq), Expiration: newExpiration()}

	data, err := signPacket(s.identity, kindPing, ping)
	if err != nil {
		return err
	}
	packet, err := decodePacket(data)
	if err != nil {
		return err
	}
	pingHash := packet.hash()

	s.mu.Lock()
	if len(s.pendingPings) >= maxPendingPings {
		cutoff := time.Now().Add(-responseTimeout)
		for hash, p := range s.pendingPings {
			if p.sentTime.Before(cutoff) {
				delete(s.pendingPings, hash)
			}
		}
	}
	if len(s.pendingPings) >= maxPendingPings {
		s.mu.Unlock()
		log.Warnf("Pending pings at capacity (%d), dropping ping to %s", maxPendingPings, address)
		return nil
	}
	s.pendingPings[*pingHash] = pendingPing{nodeID: nodeID, address: address, sentTime: time.Now()}
	s.mu.Unlock()

	_, err = s.conn.WriteToUDP(data, address)
	return err
}

// FindNodeRequest sends a FINDNODE for target to address, tracking it
// as pending so only a NEIGHBORS reply from senderNodeID/address will
// be accepted.
func (s *Server) FindNodeRequest(target *NodeID, address *net.UDPAddr, senderNodeID *NodeID) error {
	findNode := &FindNode{Source: s.localNodeInfo(), Target: target, Expiration: newExpiration()}

	s.mu.Lock()
	if len(s.pendingFindNodes) >= maxPendingFindNodes {
		cutoff := time.Now().Add(-responseTimeout)
		for id, p := range s.pendingFindNodes {
			if p.sentTime.Before(cutoff) {
				delete(s.pendingFindNodes, id)
			}
		}
	}
	if len(s.pendingFindNodes) < maxPendingFindNodes {
		s.pendingFindNodes[*senderNodeID] = pendingFindNode{address: address, sentTime: time.Now()}
	}
	s.mu.Unlock()

	return s.sendMessage(kindFindNode, findNode, address)
}

// Lookup iteratively queries nodes close to target: the first round asks
// the alpha closest known nodes, and up to two further rounds ask the
// not-yet-queried nodes among the maxNeighbors closest. It returns the
// closest nodes known at the end.
func (s *Server) Lookup(target *NodeID) []NodeInfo {
	seen := make(map[externalapi.DomainHash]bool)
	closest := s.routingTable.Closest(target, alpha)

	for round := 0; round < 3; round++ {
		for _, node := range closest {
			if seen[*node.NodeID] {
				continue
			}
			seen[*node.NodeID] = true

			addr, err := net.ResolveUDPAddr("udp", node.Address)
			if err != nil {
				continue
			}
			if err := s.FindNodeRequest(target, addr, node.NodeID); err != nil {
				log.Debugf("FINDNODE failed to %s: %s", addr, err)
			}
		}

		time.Sleep(500 * time.Millisecond)

		next := s.routingTable.Closest(target, maxNeighbors)
		if len(next) == 0 {
			break
		}
		closest = next
	}

	return closest
}

func (s *Server) refreshRandomBucket() {
	var target NodeID
	if _, err := rand.Read(target[:]); err != nil {
		log.Errorf("Generating refresh target: %s", err)
		return
	}
	log.Debugf("Refreshing routing table with lookup for random target")
	s.Lookup(&target)
}

func (s *Server) cleanupPending() {
	cutoff := time.Now().Add(-responseTimeout)

	s.mu.Lock()
	for hash, p := range s.pendingPings {
		if p.sentTime.Before(cutoff) {
			delete(s.pendingPings, hash)
		}
	}
	for id, p := range s.pendingFindNodes {
		if p.sentTime.Before(cutoff) {
			delete(s.pendingFindNodes, id)
		}
	}
	s.mu.Unlock()
}
