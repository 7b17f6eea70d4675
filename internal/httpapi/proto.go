package httpapi

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/protobuf/proto"
)

const contentTypeProtobuf = "application/x-protobuf"

// wantsProtobuf reports whether the client asked for a protobuf body via
// Accept. Anything else, including */*, gets JSON.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case contentTypeProtobuf, "application/protobuf":
			return true
		}
	}
	return false
}

// writeProto builds and marshals a message and writes it with the given
// status.
func writeProto(c *gin.Context, status int, build func() (proto.Message, error)) {
	msg, err := build()
	if err != nil {
		writeError(c, http.StatusInternalServerError, "proto_build", err.Error())
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "proto_marshal", "proto marshal error")
		return
	}
	c.Data(status, contentTypeProtobuf, data)
}
