package fdpass

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SendFD manda payload más un descriptor abierto en un solo sendmsg
// sobre el socket local. El emisor puede cerrar su copia del descriptor
// apenas vuelve la llamada: el receptor queda con un descriptor
// independiente y equivalente.
func SendFD(conn *net.UnixConn, fd int, payload []byte) error {
	rights := unix.UnixRights(fd)
	n, oobn, err := conn.WriteMsgUnix(payload, rights, nil)
	if err != nil {
		return errors.Wrap(err, "sendmsg")
	}
	if n != len(payload) || oobn != len(rights) {
		return errors.Errorf("sendmsg short write: data %d/%d oob %d/%d",
			n, len(payload), oobn, len(rights))
	}
	return nil
}

// RecvFD recibe payload de tamaño exacto payloadSize más exactamente un
// descriptor. Mensajes de control ausentes, cortos o de otro tipo son
// fallo de protocolo.
func RecvFD(conn *net.UnixConn, payloadSize int) (int, []byte, error) {
	buf := make([]byte, payloadSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, nil, errors.Wrap(err, "recvmsg")
	}
	// sobre SOCK_STREAM el payload puede llegar fragmentado; el control
	// message viaja con el primer segmento
	if n < payloadSize {
		if _, err := io.ReadFull(conn, buf[n:]); err != nil {
			closeRights(oob[:oobn])
			return -1, nil, errors.Wrap(err, "recvmsg short payload")
		}
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, nil, errors.Wrap(err, "parse control message")
	}
	if len(msgs) != 1 {
		return -1, nil, errors.Errorf("expected 1 control message, got %d", len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, nil, errors.Wrap(err, "parse rights")
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return -1, nil, errors.Errorf("expected 1 descriptor, got %d", len(fds))
	}
	return fds[0], buf, nil
}

// closeRights cierra descriptores ya recibidos en un handoff fallido
// para no fugarlos.
func closeRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range msgs {
		if fds, err := unix.ParseUnixRights(&msgs[i]); err == nil {
			for _, fd := range fds {
				unix.Close(fd)
			}
		}
	}
}
