package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadMessagesQuery(t *testing.T) {
	q := loadMessagesQuery("`pubsub`.`default`.`messages`")

	assert.Contains(t, q, "FROM `pubsub`.`default`.`messages` m")
	assert.Contains(t, q, "m.orderingKey = $orderingKey")
	assert.Contains(t, q, "m.`offset` >= $fromOffset")
	assert.Contains(t, q, "ORDER BY m.`offset` ASC")
	assert.Contains(t, q, "LIMIT $limit")
}

func TestNewControllerRequiresDeps(t *testing.T) {
	_, err := NewController(nil, nil, nil, DefaultRetention)
	assert.Error(t, err)
}
