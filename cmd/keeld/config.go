package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Timing  TimingConfig  `yaml:"timing"`
}

type NodeConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	WalDir  string `yaml:"wal_dir"`
}

type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

type PeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

type TimingConfig struct {
	ElectionTimeoutMs  int `yaml:"election_timeout_ms"`
	HeartbeatTimeoutMs int `yaml:"heartbeat_timeout_ms"`
	TickMs             int `yaml:"tick_ms"`
}

const (
	defaultElectionTimeoutMs  = 1000
	defaultHeartbeatTimeoutMs = 100
	defaultTickMs             = 20
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Timing.ElectionTimeoutMs == 0 {
		c.Timing.ElectionTimeoutMs = defaultElectionTimeoutMs
	}
	if c.Timing.HeartbeatTimeoutMs == 0 {
		c.Timing.HeartbeatTimeoutMs = defaultHeartbeatTimeoutMs
	}
	if c.Timing.TickMs == 0 {
		c.Timing.TickMs = defaultTickMs
	}
}

func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be greater than 0")
	}

	if c.Node.Address == "" {
		return fmt.Errorf("node.address is required")
	}

	if c.Node.WalDir == "" {
		return fmt.Errorf("node.wal_dir is required")
	}

	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	if c.Timing.ElectionTimeoutMs <= c.Timing.HeartbeatTimeoutMs {
		return fmt.Errorf("timing.election_timeout_ms must exceed timing.heartbeat_timeout_ms")
	}

	found := false
	for _, peer := range c.Cluster.Peers {
		if peer.ID == c.Node.ID {
			found = true
			if peer.Address != c.Node.Address {
				return fmt.Errorf("node address mismatch: node.address=%s but peer address=%s",
					c.Node.Address, peer.Address)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("node.id=%d not found in cluster.peers", c.Node.ID)
	}

	uniqueIDs := make(map[uint64]bool)
	for _, peer := range c.Cluster.Peers {
		if uniqueIDs[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %d", peer.ID)
		}
		uniqueIDs[peer.ID] = true
	}

	return nil
}

func (c *Config) GetPeers() map[uint64]string {
	var res = make(map[uint64]string, len(c.Cluster.Peers))
	for _, peer := range c.Cluster.Peers {
		res[peer.ID] = peer.Address
	}
	return res
}

func (c *Config) GetPeerIDs() []uint64 {
	ids := make([]uint64, len(c.Cluster.Peers))
	for i, peer := range c.Cluster.Peers {
		ids[i] = peer.ID
	}
	return ids
}
