package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotKey(t *testing.T) {
	assert.Equal(t, "inventory_reserve:u1:o1", slotKey("u1", "o1"))
}

func TestUserLockKey(t *testing.T) {
	assert.Equal(t, "user_inventory_lock:u1", userLockKey("u1"))
}

func TestMaxSlotsFor(t *testing.T) {
	s := &inventoryService{}
	assert.Equal(t, 20, s.maxSlotsFor("u1"))
	assert.Equal(t, 20, s.maxSlotsFor("u2"))
}
