package prompt_test

import (
	"strings"
	"testing"

	"flyercal/internal/model"
	"flyercal/internal/prompt"

	"github.com/smartystreets/goconvey/convey"
)

func TestBuild(t *testing.T) {
	convey.Convey("Given the extraction prompt", t, func() {
		p := prompt.Build()

		convey.Convey("Then it is deterministic", func() {
			convey.So(prompt.Build(), convey.ShouldEqual, p)
		})

		convey.Convey("Then it names every schema key", func() {
			for _, k := range model.Keys {
				convey.So(p, convey.ShouldContainSubstring, `"`+k+`"`)
			}
		})

		convey.Convey("Then it states the format rules", func() {
			convey.So(p, convey.ShouldContainSubstring, "ISO 8601")
			convey.So(p, convey.ShouldContainSubstring, "2 hours after the start time")
			convey.So(strings.Count(p, `use an empty string ""`), convey.ShouldEqual, 2)
			convey.So(p, convey.ShouldContainSubstring, "Do not include any text before or after the JSON object")
		})
	})
}
