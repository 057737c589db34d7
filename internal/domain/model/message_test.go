package model_test

import (
	"testing"

	model "github.com/okian/potally/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestMessage_IsCommand(t *testing.T) {
	convey.Convey("Given messages with and without the prefix", t, func() {
		cases := []struct {
			content string
			prefix  string
			want    bool
		}{
			{"!po", "!", true},
			{"!pol 5", "!", true},
			{"!unknown", "!", true},
			{"po!", "!", false},
			{" !po", "!", false},
			{"", "!", false},
			{"?po", "?", true},
			{"!po", "", false},
		}

		convey.Convey("Then only bodies starting with the prefix are commands", func() {
			for _, c := range cases {
				msg := model.Message{Content: c.content}
				convey.So(msg.IsCommand(c.prefix), convey.ShouldEqual, c.want)
			}
		})
	})
}
